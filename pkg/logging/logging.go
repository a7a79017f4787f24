// Package logging wraps a single process-wide zap logger so every package
// can log with structured fields without threading a logger through every
// call site.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log *zap.Logger = mustBuild(false)
)

func mustBuild(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panicking the process
		// over a logging misconfiguration.
		return zap.NewNop()
	}
	return l
}

// Configure rebuilds the process logger. Verbose toggles development-style
// (human-readable, debug-level) output, matching the --verbose CLI flag.
func Configure(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	log = mustBuild(verbose)
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }

// Sync flushes any buffered log entries. Call during shutdown.
func Sync() error {
	return current().Sync()
}
