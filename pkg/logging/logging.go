// Package logging provides the structured, component-scoped loggers used
// throughout the gateway. It wraps zap behind the logr facade so callers
// never import zap directly.
package logging

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

// level is the process-wide minimum enabled level shared by every
// logger; SetLevel changes it atomically, for loggers already handed
// out as well as later ones.
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// SetLevel parses a level name ("debug", "info", "warn", "error") and
// applies it process-wide.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

func baseLogger() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			// Fall back to a no-op logger rather than panicking on init.
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// New returns a logr.Logger scoped to the named component. Call sites use
// it the same way across the gateway: a package-level
// `var logger = logging.New("resolver")` followed by
// `logger.Info("message", "key", value)` / `logger.Error(err, "message", ...)`.
func New(component string) logr.Logger {
	return zapr.NewLogger(baseLogger()).WithName(component)
}

// Sync flushes any buffered log entries. Callers invoke it once on
// process shutdown.
func Sync() error {
	if base == nil {
		return nil
	}
	return base.Sync()
}
