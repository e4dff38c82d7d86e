// Package logging builds the zap loggers used across smellsync. Library
// packages default to a no-op logger; binaries construct a real one here and
// inject it, so the core has no hidden logging globals.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component names used with Logger.Named across the codebase.
const (
	ComponentCache  = "cache"
	ComponentFetch  = "fetch"
	ComponentMutate = "mutate"
	ComponentEngine = "engine"
	ComponentConfig = "config"
)

// New returns a logger for the given debug setting: a development console
// logger at debug level when true, a production JSON logger at info level
// otherwise.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	return zap.NewProductionConfig().Build()
}

// Nop returns a disabled logger, the default for library construction and
// tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}
