package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Channel.Path)
	assert.Equal(t, 100*time.Millisecond, cfg.Hub.DebounceWindow)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 64, cfg.Broker.QueueSize)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
channel:
  secret: venue-key
  min_version: "1.2.0"
hub:
  debounce_window: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "venue-key", cfg.Channel.Secret)
	assert.Equal(t, "1.2.0", cfg.Channel.MinVersion)
	assert.Equal(t, 250*time.Millisecond, cfg.Hub.DebounceWindow)
	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "channel:\n  secret: from-file\n")
	t.Setenv("TRACKER_SECRET", "from-env")
	t.Setenv("TRACKER_PORT", "7070")
	t.Setenv("TRACKER_LEARNING_MODE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Channel.Secret)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.LearningMode.Enabled)
}

func TestRedisEnvSwitchesBackend(t *testing.T) {
	t.Setenv("TRACKER_REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"empty channel path", func(c *Config) { c.Channel.Path = "" }, "channel path"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "etcd" }, "cache backend"},
		{"redis without url", func(c *Config) { c.Cache.Backend = "redis" }, "redis_url"},
		{"zero queue", func(c *Config) { c.Broker.QueueSize = 0 }, "queue size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}
