package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andresousadotpt/hidwatch/internal/observer"
)

// Duration is a time.Duration that reads and writes as "3s", "500ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DeviceConfig selects which input devices are observed.
type DeviceConfig struct {
	// Match is "keyboards" or "all".
	Match  string   `yaml:"match"`
	Ignore []string `yaml:"ignore"`
	// Grab takes exclusive access to observed devices and re-posts their
	// input through the virtual keyboard.
	Grab bool `yaml:"grab"`
}

// AppConfig represents config.yml.
type AppConfig struct {
	ConfigVersion int               `yaml:"config_version"`
	RetryInterval Duration          `yaml:"retry_interval"`
	Log           LogConfig         `yaml:"log"`
	Devices       DeviceConfig      `yaml:"devices"`
	Remap         map[string]string `yaml:"remap"`
}

// DefaultAppConfig returns the settings used for keys missing from config.yml.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		ConfigVersion: latestConfigVersion,
		RetryInterval: Duration(observer.DefaultRetryInterval),
		Log:           LogConfig{Level: "info", Format: "text"},
		Devices:       DeviceConfig{Match: "keyboards"},
	}
}

// LoadAppConfig reads dir/config.yml. A missing file yields the defaults.
func LoadAppConfig(dir string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	cfg.ConfigVersion = 0

	path := filepath.Join(dir, "config.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ConfigVersion = latestConfigVersion
			return cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *AppConfig) Validate() error {
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be positive, got %s", time.Duration(c.RetryInterval))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	switch c.Devices.Match {
	case "keyboards", "all":
	default:
		return fmt.Errorf("devices.match %q is not one of keyboards, all", c.Devices.Match)
	}
	if _, err := ParseRemap(c.Remap); err != nil {
		return fmt.Errorf("remap: %w", err)
	}
	return nil
}
