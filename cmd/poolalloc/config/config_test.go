package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0, cfg.Allocator.ArenaSize)
	assert.Equal(t, 64<<20, cfg.Allocator.NativeArenaSize)
	assert.Equal(t, 4, cfg.Stress.Workers)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestValidate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg := &Config{}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 64<<20, cfg.Allocator.NativeArenaSize)
		assert.Equal(t, 4, cfg.Stress.Workers)
		assert.Equal(t, 10000, cfg.Stress.Operations)
		assert.Equal(t, 8<<10, cfg.Stress.MaxSize)
		assert.Equal(t, "/metrics", cfg.Metrics.Path)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"LogLevel", func(c *Config) { c.LogLevel = "trace" }, "unsupported log level"},
		{"ArenaSize", func(c *Config) { c.Allocator.ArenaSize = -1 }, "arena size"},
		{"Duration", func(c *Config) { c.Stress.Duration = -time.Second }, "stress duration"},
		{"MetricsAddress", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Address = ""
		}, "metrics address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML", func(t *testing.T) {
		path := filepath.Join(dir, "poolalloc.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
allocator:
  arena_size: 1048576
  diagnostic: true
stress:
  workers: 16
  duration: 2s
  arrow: true
metrics:
  enabled: true
  address: 127.0.0.1:9191
`), 0o600))

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 1<<20, cfg.Allocator.ArenaSize)
		assert.True(t, cfg.Allocator.Diagnostic)
		assert.Equal(t, 64<<20, cfg.Allocator.NativeArenaSize, "unset keys keep their defaults")
		assert.Equal(t, 16, cfg.Stress.Workers)
		assert.Equal(t, 2*time.Second, cfg.Stress.Duration)
		assert.True(t, cfg.Stress.Arrow)
		assert.Equal(t, 10000, cfg.Stress.Operations)
		assert.Equal(t, "127.0.0.1:9191", cfg.Metrics.Address)
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "poolalloc.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"stress": {"max_size": 512}}`), 0o600))

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 512, cfg.Stress.MaxSize)
	})

	t.Run("Invalid", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o600))

		_, err := LoadFromFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(dir, "absent.yaml"))
		assert.Error(t, err)
	})
}
