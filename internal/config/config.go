package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds engine and storage settings loaded from conceptgraph.yml.
type Config struct {
	// Backend selects the storage adapter: "sqlite" (default), "kuzu"
	// (requires cgo) or "memory".
	Backend string `yaml:"backend,omitempty"`
	// DatabasePath is the database file (sqlite) or directory (kuzu).
	DatabasePath string `yaml:"databasePath,omitempty"`
	// MaxTraversalDepth bounds RelatedConcepts walks. Zero means the
	// engine default of 2.
	MaxTraversalDepth int `yaml:"maxTraversalDepth,omitempty"`
	// Instrument wraps the store with latency/error instrumentation.
	Instrument bool `yaml:"instrument,omitempty"`
}

// Load attempts to read conceptgraph.yml or conceptgraph.yaml from the
// given directory. Returns a zero-value config (not an error) if no config
// file exists.
func Load(dir string) (*Config, error) {
	for _, name := range []string{"conceptgraph.yml", "conceptgraph.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	return &Config{}, nil
}

// BackendOrDefault returns the configured backend, defaulting to sqlite.
func (c *Config) BackendOrDefault() string {
	if c.Backend == "" {
		return "sqlite"
	}
	return c.Backend
}

// DatabasePathOrDefault returns the configured path, defaulting to
// .conceptgraph/concepts.db under the given root.
func (c *Config) DatabasePathOrDefault(root string) string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(root, ".conceptgraph", "concepts.db")
}
