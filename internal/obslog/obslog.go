// Package obslog provides the gateway's structured logger: a
// per-component naming convention rendered through go.uber.org/zap.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide logger. level is one of
// debug/info/warn/error; json selects JSON encoding for production,
// console encoding for local/dev use.
func New(level string, json bool) *zap.Logger {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	cfg := zap.NewProductionConfig()
	if !json {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a minimal logger rather than failing startup over
		// a logging misconfiguration.
		logger = zap.NewNop()
		logger.Warn("obslog: falling back to noop logger", zap.Error(err))
	}
	return logger
}

// Component returns a child logger tagged with a "component/name"
// style label, rendered as a structured field instead of a string
// prefix.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}

// Discard returns a logger that drops everything, used by tests.
func Discard() *zap.Logger {
	return zap.NewNop()
}
