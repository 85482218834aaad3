// Package logger provides the production implementation of core.Logger
// built on zap. Components receive scoped loggers via WithComponent so log
// lines can be attributed to the subsystem that emitted them.
package logger

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/schmitech/orbit/core"
)

// ZapLogger adapts a zap.Logger to core.Logger. It implements
// core.ComponentAwareLogger.
type ZapLogger struct {
	base      *zap.Logger
	component string
}

// Options configures logger construction.
type Options struct {
	Level       string // debug, info, warn, error
	Development bool
}

// New builds a production zap logger at the requested level.
func New(opts Options) (*ZapLogger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return nil, err
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{base: base}, nil
}

// NewNop returns a logger that discards everything. Useful in tests that
// need a ComponentAwareLogger.
func NewNop() *ZapLogger {
	return &ZapLogger{base: zap.NewNop()}
}

// WithComponent returns a logger scoped to the named component.
func (l *ZapLogger) WithComponent(component string) core.Logger {
	return &ZapLogger{
		base:      l.base.With(zap.String("component", component)),
		component: component,
	}
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]interface{}) {
	l.base.Error(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, toZapFields(fields)...)
}

// toZapFields converts the map form to zap fields with stable ordering so
// repeated log lines diff cleanly.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
