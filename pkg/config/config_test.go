package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/ws", cfg.Signal.Path)
	assert.Equal(t, 30*time.Second, cfg.Signal.PingInterval)
	assert.Equal(t, "pion", cfg.Media.Engine)
	assert.Len(t, cfg.Media.Codecs, 3)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"pong timeout not above ping interval", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"zero send buffer", func(c *Config) { c.Signal.SendBufferSize = 0 }},
		{"unknown engine", func(c *Config) { c.Media.Engine = "gstreamer" }},
		{"no workers", func(c *Config) { c.Media.NumWorkers = 0 }},
		{"inverted port range", func(c *Config) { c.Media.PortRange.Min, c.Media.PortRange.Max = 50000, 40000 }},
		{"half port range", func(c *Config) { c.Media.PortRange.Max = 0 }},
		{"port range smaller than workers", func(c *Config) {
			c.Media.PortRange.Min, c.Media.PortRange.Max = 40000, 40001
			c.Media.NumWorkers = 4
		}},
		{"no codecs", func(c *Config) { c.Media.Codecs = nil }},
		{"static payload type", func(c *Config) { c.Media.Codecs[0].PayloadType = 0 }},
		{"duplicate payload type", func(c *Config) { c.Media.Codecs[1].PayloadType = c.Media.Codecs[0].PayloadType }},
		{"bad codec kind", func(c *Config) { c.Media.Codecs[0].Kind = "data" }},
		{"tracing without url", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.JaegerURL = "" }},
		{"redis without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"ws rps with rate limiting", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.WebSocket.MessagesPerSecond = 0
		}},
		{"negative message size", func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxsfu.yaml")
	yamlData := `
server:
  address: ":9000"
media:
  engine: memory
  num_workers: 2
  codecs:
    - kind: audio
      mime_type: audio/opus
      clock_rate: 48000
      channels: 2
      payload_type: 100
signal:
  ping_interval: 5s
  pong_timeout: 15s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))
	t.Setenv("VOXSFU_LOG_LEVEL", "debug")
	t.Setenv("VOXSFU_MEDIA_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Media.Engine)
	assert.Equal(t, 3, cfg.Media.NumWorkers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Signal.PingInterval)
	require.Len(t, cfg.Media.Codecs, 1)
	assert.Equal(t, uint8(100), cfg.Media.Codecs[0].PayloadType)
	assert.Equal(t, 10*time.Second, cfg.Signal.WriteTimeout)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("media:\n  engine: gstreamer\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "media.engine")
}
