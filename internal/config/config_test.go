package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Hub.HeartbeatInterval)
	assert.Equal(t, 100, cfg.Hub.MaxQueueSize)
	assert.Equal(t, 5, cfg.Hub.ReplayCount)
	assert.Equal(t, 50.0, cfg.Hub.DefaultRadiusKm)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"heartbeat", func(c *Config) { c.Hub.HeartbeatInterval = 0 }, "hub.heartbeat_interval"},
		{"queue", func(c *Config) { c.Hub.MaxQueueSize = 0 }, "hub.max_queue_size"},
		{"replay", func(c *Config) { c.Hub.ReplayCount = 500 }, "hub.replay_count"},
		{"relay", func(c *Config) { c.Relay.Enabled = true; c.Relay.RedisURL = "" }, "relay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	content := `
server:
  port: 9090
hub:
  heartbeat_interval: 15s
  max_queue_size: 20
  replay_count: 3
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("BEACON_MAX_QUEUE_SIZE", "40")
	t.Setenv("BEACON_LOG_FORMAT", "json")

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Hub.HeartbeatInterval)
	assert.Equal(t, 40, cfg.Hub.MaxQueueSize)
	assert.Equal(t, 3, cfg.Hub.ReplayCount)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PlainPortFallback(t *testing.T) {
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)

	t.Setenv("BEACON_PORT", "6060")

	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))

	_, err := Load(LoadOptions{Path: path})
	assert.ErrorContains(t, err, "unsupported config file format")
}
