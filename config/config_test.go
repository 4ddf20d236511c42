package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everbrook-ai/engram/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Memory.TopK)
	assert.InDelta(t, 0.7, float64(cfg.Memory.MinSimilarity), 1e-6)
	assert.Equal(t, 384, cfg.Memory.VectorSize)
	assert.Equal(t, "chromem", cfg.Store.Vector.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
memory:
  top_k: 5
  min_similarity: 0.5
store:
  vector:
    backend: qdrant
    qdrant_host: qdrant.internal
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Memory.TopK)
	assert.InDelta(t, 0.5, float64(cfg.Memory.MinSimilarity), 1e-6)
	assert.Equal(t, "qdrant", cfg.Store.Vector.Backend)
	assert.Equal(t, "qdrant.internal", cfg.Store.Vector.QdrantHost)

	// Untouched keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 384, cfg.Memory.VectorSize)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9999\n")
	t.Setenv("ENGRAM_SERVER_PORT", "7777")
	t.Setenv("ENGRAM_LOGGING_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := config.Default()
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad port", func(c *config.Config) { c.Server.Port = 0 }},
		{"zero top_k", func(c *config.Config) { c.Memory.TopK = 0 }},
		{"similarity above one", func(c *config.Config) { c.Memory.MinSimilarity = 1.5 }},
		{"zero vector size", func(c *config.Config) { c.Memory.VectorSize = 0 }},
		{"unknown backend", func(c *config.Config) { c.Store.Vector.Backend = "redis" }},
		{"empty history path", func(c *config.Config) { c.Store.HistoryPath = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
