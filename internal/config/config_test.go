package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	data := `backend: kuzu
databasePath: /var/lib/conceptgraph/db
maxTraversalDepth: 3
instrument: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conceptgraph.yml"), []byte(data), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "kuzu", cfg.Backend)
	assert.Equal(t, "/var/lib/conceptgraph/db", cfg.DatabasePath)
	assert.Equal(t, 3, cfg.MaxTraversalDepth)
	assert.True(t, cfg.Instrument)
}

func TestLoad_YamlExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "conceptgraph.yaml"), []byte("backend: memory\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend)
}

func TestLoad_MissingFileYieldsZeroValue(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "conceptgraph.yml"), []byte("backend: [unclosed"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "sqlite", cfg.BackendOrDefault())
	assert.Equal(t, filepath.Join("/repo", ".conceptgraph", "concepts.db"),
		cfg.DatabasePathOrDefault("/repo"))

	cfg = &Config{Backend: "kuzu", DatabasePath: "/data/graph"}
	assert.Equal(t, "kuzu", cfg.BackendOrDefault())
	assert.Equal(t, "/data/graph", cfg.DatabasePathOrDefault("/repo"))
}
