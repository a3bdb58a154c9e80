package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kleeedolinux/eventchannel/channel"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8000/ws", cfg.URL)
	assert.Equal(t, channel.DefaultBaseDelay, cfg.Reconnect.BaseDelay)
	assert.Equal(t, channel.DefaultMaxAttempts, cfg.Reconnect.MaxAttempts)
	assert.Zero(t, cfg.Reconnect.MaxDelay)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
url: wss://console.example.com/ws
reconnect:
  base_delay: 250ms
  max_attempts: 8
  max_delay: 30s
transport:
  write_timeout: 3s
  headers:
    X-Console: dashboard
logging:
  level: debug
metrics:
  enabled: true
  addr: 127.0.0.1:9100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://console.example.com/ws", cfg.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 8, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 3*time.Second, cfg.Transport.WriteTimeout)
	assert.Equal(t, "dashboard", cfg.Transport.Headers["X-Console"])
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
url: ws://file.example.com/ws
reconnect:
  max_attempts: 3
`)

	t.Setenv("EVENTCHANNEL_URL", "ws://env.example.com/ws")
	t.Setenv("EVENTCHANNEL_MAX_ATTEMPTS", "9")
	t.Setenv("EVENTCHANNEL_BASE_DELAY", "2s")
	t.Setenv("EVENTCHANNEL_TRANSPORT_READ__TIMEOUT", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://env.example.com/ws", cfg.URL)
	assert.Equal(t, 9, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 45*time.Second, cfg.Transport.ReadTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"http scheme", func(c *Config) { c.URL = "http://localhost/ws" }, "scheme must be ws or wss"},
		{"missing host", func(c *Config) { c.URL = "ws:///ws" }, "missing host"},
		{"zero base delay", func(c *Config) { c.Reconnect.BaseDelay = 0 }, "base_delay must be positive"},
		{"negative attempts", func(c *Config) { c.Reconnect.MaxAttempts = -1 }, "max_attempts must not be negative"},
		{"ceiling below base", func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond }, "must not be below"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "unknown level"},
		{"metrics without addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, "metrics.addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "url", envKey("EVENTCHANNEL_URL"))
	assert.Equal(t, "reconnect.base_delay", envKey("EVENTCHANNEL_BASE_DELAY"))
	assert.Equal(t, "logging.level", envKey("EVENTCHANNEL_LOG_LEVEL"))
	assert.Equal(t, "reconnect.max_delay", envKey("EVENTCHANNEL_RECONNECT_MAX__DELAY"))
	assert.Equal(t, "reconnect.base_delay", envKey("EVENTCHANNEL_RECONNECT_BASE_DELAY"))
	assert.Equal(t, "transport.handshake_timeout", envKey("EVENTCHANNEL_TRANSPORT_HANDSHAKE_TIMEOUT"))
	assert.Equal(t, "metrics.enabled", envKey("EVENTCHANNEL_METRICS_ENABLED"))
}

func TestLoad_SectionEnvOverrides(t *testing.T) {
	t.Setenv("EVENTCHANNEL_RECONNECT_BASE_DELAY", "250ms")
	t.Setenv("EVENTCHANNEL_TRANSPORT_WRITE_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 3*time.Second, cfg.Transport.WriteTimeout)
}

func TestChannelOptions(t *testing.T) {
	cfg := Default()
	cfg.Reconnect.BaseDelay = 50 * time.Millisecond
	cfg.Reconnect.MaxAttempts = 2
	cfg.Reconnect.MaxDelay = time.Second

	c := channel.New(cfg.URL, cfg.ChannelOptions()...)

	assert.Equal(t, channel.Disconnected, c.State())
	assert.Equal(t, 50*time.Millisecond, c.Delay())
}
