package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kleeedolinux/eventchannel/channel"
	"github.com/kleeedolinux/eventchannel/channel/transport"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "EVENTCHANNEL_"

// Config holds everything needed to build a channel.
type Config struct {
	URL       string          `koanf:"url"`
	Reconnect ReconnectConfig `koanf:"reconnect"`
	Transport TransportConfig `koanf:"transport"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxAttempts int           `koanf:"max_attempts"`
	// MaxDelay caps one backoff delay; zero means uncapped.
	MaxDelay time.Duration `koanf:"max_delay"`
}

type TransportConfig struct {
	HandshakeTimeout time.Duration     `koanf:"handshake_timeout"`
	ReadTimeout      time.Duration     `koanf:"read_timeout"`
	WriteTimeout     time.Duration     `koanf:"write_timeout"`
	Compression      bool              `koanf:"compression"`
	Headers          map[string]string `koanf:"headers"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		URL: "ws://localhost:8000/ws",
		Reconnect: ReconnectConfig{
			BaseDelay:   channel.DefaultBaseDelay,
			MaxAttempts: channel.DefaultMaxAttempts,
		},
		Transport: TransportConfig{
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			Headers:          map[string]string{},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load reads configuration with priority env > file > defaults. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// sections are the top-level config blocks addressable from the environment.
var sections = []string{"reconnect", "transport", "logging", "metrics"}

// envKey maps an environment variable to a config key.
// EVENTCHANNEL_RECONNECT_BASE_DELAY becomes reconnect.base_delay: the first
// underscore after a section name separates it from the field. Names with a
// double underscore use the explicit form, where "__" is a literal underscore
// and "_" a level separator (EVENTCHANNEL_RECONNECT_BASE__DELAY). Short forms
// such as EVENTCHANNEL_URL and EVENTCHANNEL_BASE_DELAY are also accepted.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	switch s {
	case "url":
		return "url"
	case "base_delay":
		return "reconnect.base_delay"
	case "max_attempts":
		return "reconnect.max_attempts"
	case "max_delay":
		return "reconnect.max_delay"
	case "log_level":
		return "logging.level"
	case "metrics_addr":
		return "metrics.addr"
	}

	if !strings.Contains(s, "__") {
		for _, section := range sections {
			if field, ok := strings.CutPrefix(s, section+"_"); ok {
				return section + "." + field
			}
		}
	}

	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("url: scheme must be ws or wss, got %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, errors.New("url: missing host"))
	}

	if c.Reconnect.BaseDelay <= 0 {
		errs = append(errs, errors.New("reconnect.base_delay must be positive"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	if c.Reconnect.MaxDelay < 0 {
		errs = append(errs, errors.New("reconnect.max_delay must not be negative"))
	}
	if c.Reconnect.MaxDelay > 0 && c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		errs = append(errs, errors.New("reconnect.max_delay must not be below reconnect.base_delay"))
	}

	if c.Transport.HandshakeTimeout < 0 || c.Transport.ReadTimeout < 0 || c.Transport.WriteTimeout < 0 {
		errs = append(errs, errors.New("transport timeouts must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

// ChannelOptions converts the reconnect and transport sections into
// channel options.
func (c *Config) ChannelOptions() []channel.Option {
	headers := make(http.Header, len(c.Transport.Headers))
	for k, v := range c.Transport.Headers {
		headers.Set(k, v)
	}

	opts := []channel.Option{
		channel.WithBaseDelay(c.Reconnect.BaseDelay),
		channel.WithMaxAttempts(c.Reconnect.MaxAttempts),
		channel.WithTransportOptions(
			transport.WithHandshakeTimeout(c.Transport.HandshakeTimeout),
			transport.WithReadTimeout(c.Transport.ReadTimeout),
			transport.WithWriteTimeout(c.Transport.WriteTimeout),
			transport.WithCompression(c.Transport.Compression),
			transport.WithHeaders(headers),
		),
	}
	if c.Reconnect.MaxDelay > 0 {
		opts = append(opts, channel.WithMaxDelay(c.Reconnect.MaxDelay))
	}

	return opts
}
