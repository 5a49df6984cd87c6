// Package logger configures the process-wide zap logger for the voice
// core. Hot-path packages never call Get themselves; they receive a
// *zap.Logger from their owner so per-connection fields attach once at
// construction instead of on every log call.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger instance.
var Logger *zap.Logger

// Init builds the global logger. Production gets JSON at info level,
// anything else the colored console encoder at debug. VOICE_LOG_LEVEL
// overrides the level either way, e.g. "warn" to quiet the per-packet
// debug lines during a long soak without rebuilding.
func Init(env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if lvl := os.Getenv("VOICE_LOG_LEVEL"); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return err
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := config.Build()
	if err != nil {
		return err
	}
	Logger = built.Named("voicecore")
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns the global logger instance.
func Get() *zap.Logger {
	if Logger == nil {
		// Fallback to a basic logger if not initialized
		fallback, _ := zap.NewDevelopment()
		return fallback
	}
	return Logger
}

// WithConn tags a logger with the local connection-correlation id a
// session stamps onto every line it emits.
func WithConn(l *zap.Logger, connID string) *zap.Logger {
	return l.With(zap.String("conn_id", connID))
}
