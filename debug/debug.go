package debug

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// EnvDebug forces debug-level logging for the default logger.
	EnvDebug = "EVENTCHANNEL_DEBUG"
	// EnvLogLevel sets the level used by NewLogger when none is given.
	EnvLogLevel = "EVENTCHANNEL_LOG_LEVEL"
)

var (
	mu      sync.RWMutex
	enabled bool
	dev     *zap.Logger
)

func init() {
	if v, ok := os.LookupEnv(EnvDebug); ok {
		if val, err := strconv.ParseBool(v); err == nil {
			enabled = val
		}
	}
}

// Logger returns the package default logger: a development logger at debug
// level while debugging is enabled, a no-op logger otherwise.
func Logger() *zap.Logger {
	mu.RLock()
	on := enabled
	l := dev
	mu.RUnlock()

	if !on {
		return zap.NewNop()
	}
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if dev == nil {
		built, err := NewDevelopmentLogger()
		if err != nil {
			return zap.NewNop()
		}
		dev = built
	}
	return dev
}

func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

func Enable() {
	mu.Lock()
	enabled = true
	mu.Unlock()
}

func Disable() {
	mu.Lock()
	enabled = false
	mu.Unlock()
}

// NewLogger builds a JSON production logger. An empty level falls back to
// EVENTCHANNEL_LOG_LEVEL, then to info.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = os.Getenv(EnvLogLevel)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// NewDevelopmentLogger creates a console logger suitable for development.
func NewDevelopmentLogger() (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// ParseLevel maps a level name to a zapcore.Level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
