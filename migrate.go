package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const latestConfigVersion = 2

// migration is a named config migration step. run rewrites the parsed
// config.yml mapping in place and reports whether it changed anything.
type migration struct {
	version int
	name    string
	run     func(root *yaml.Node) (bool, error)
}

var migrations = []migration{
	{version: 2, name: "retry_ms_to_retry_interval", run: retryMsToInterval},
}

// migrateConfig runs all pending migrations on dir/config.yml.
func migrateConfig(dir string) error {
	path := filepath.Join(dir, "config.yml")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("hidwatch: no config.yml, nothing to migrate")
			return nil
		}
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config.yml: %w", err)
	}

	var root *yaml.Node
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root = doc.Content[0]
	} else {
		root = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	}
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config.yml root is not a mapping")
	}

	current := 0
	if v := mappingValue(root, "config_version"); v != nil {
		current, err = strconv.Atoi(v.Value)
		if err != nil {
			return fmt.Errorf("config_version: %w", err)
		}
	}
	if current >= latestConfigVersion {
		fmt.Println("hidwatch: config already up to date")
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		fmt.Printf("hidwatch: running migration %d (%s)\n", m.version, m.name)
		changed, err := m.run(root)
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if !changed {
			fmt.Println("  nothing to migrate")
		}
	}

	setConfigVersion(root, latestConfigVersion)

	// Back up the original file.
	if err := os.WriteFile(path+".bak", data, 0644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config.yml: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write config.yml: %w", err)
	}

	fmt.Println("hidwatch: migration complete")
	return nil
}

// setConfigVersion updates or inserts config_version, keeping comments and
// key order of the rest of the document.
func setConfigVersion(root *yaml.Node, version int) {
	if v := mappingValue(root, "config_version"); v != nil {
		v.Value = strconv.Itoa(version)
		v.Tag = "!!int"
		return
	}

	// Prepend config_version as the first key.
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: "config_version", Tag: "!!str"}
	valNode := &yaml.Node{Kind: yaml.ScalarNode, Value: strconv.Itoa(version), Tag: "!!int"}
	root.Content = append([]*yaml.Node{keyNode, valNode}, root.Content...)
}

// retryMsToInterval replaces the integer retry_ms key with a retry_interval
// duration string at the same position.
func retryMsToInterval(root *yaml.Node) (bool, error) {
	for i := 0; i < len(root.Content)-1; i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if key.Value != "retry_ms" {
			continue
		}
		ms, err := strconv.Atoi(val.Value)
		if err != nil {
			return false, fmt.Errorf("retry_ms %q is not an integer", val.Value)
		}
		if ms <= 0 {
			return false, fmt.Errorf("retry_ms must be positive, got %d", ms)
		}

		key.Value = "retry_interval"
		val.Value = (time.Duration(ms) * time.Millisecond).String()
		val.Tag = "!!str"
		val.Style = 0
		return true, nil
	}
	return false, nil
}

// mappingValue returns the value node for key in a mapping node.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(node.Content)-1; i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
