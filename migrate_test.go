package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateRetryMs(t *testing.T) {
	original := `# hidwatch settings
retry_ms: 1500 # between attempts
log:
  level: info
`
	dir := writeConfig(t, original)

	require.NoError(t, migrateConfig(dir))

	data, err := os.ReadFile(filepath.Join(dir, "config.yml"))
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "# hidwatch settings")
	assert.Contains(t, out, "# between attempts")
	assert.Contains(t, out, "retry_interval: 1.5s")
	assert.NotContains(t, out, "retry_ms")

	backup, err := os.ReadFile(filepath.Join(dir, "config.yml.bak"))
	require.NoError(t, err)
	assert.Equal(t, original, string(backup))

	cfg, err := LoadAppConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, latestConfigVersion, cfg.ConfigVersion)
	assert.Equal(t, 1500*time.Millisecond, time.Duration(cfg.RetryInterval))
}

func TestMigrateWithoutRetryMs(t *testing.T) {
	dir := writeConfig(t, "config_version: 1\nlog:\n  level: debug\n")

	require.NoError(t, migrateConfig(dir))

	cfg, err := LoadAppConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, latestConfigVersion, cfg.ConfigVersion)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMigrateUpToDate(t *testing.T) {
	content := "config_version: 2\nretry_interval: 2s\n"
	dir := writeConfig(t, content)

	require.NoError(t, migrateConfig(dir))

	data, err := os.ReadFile(filepath.Join(dir, "config.yml"))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.NoFileExists(t, filepath.Join(dir, "config.yml.bak"))
}

func TestMigrateMissingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, migrateConfig(dir))
	assert.NoFileExists(t, filepath.Join(dir, "config.yml"))
}

func TestMigrateRejectsBadRetryMs(t *testing.T) {
	for _, v := range []string{"fast", "0", "-5"} {
		dir := writeConfig(t, "retry_ms: "+v+"\n")
		err := migrateConfig(dir)
		require.Error(t, err, v)
		assert.Contains(t, err.Error(), "retry_ms")
	}
}
