// Package zaplog adapts a zap logger to the cinderlink.Logger interface.
//
//	logger, _ := zap.NewProduction()
//	cfg := cinderlink.NewConfig(key, cinderlink.WithLogger(zaplog.New(logger)))
package zaplog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockberries/cinderlink"
)

// Logger forwards cinderlink log calls to a zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ cinderlink.Logger = (*Logger)(nil)

// New wraps logger. A nil logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Named returns a logger whose entries carry name as the logger name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{sugar: l.sugar.Named(name)}
}

// Debug implements cinderlink.Logger.
func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, normalize(keysAndValues)...)
}

// Info implements cinderlink.Logger.
func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, normalize(keysAndValues)...)
}

// Warn implements cinderlink.Logger.
func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, normalize(keysAndValues)...)
}

// Error implements cinderlink.Logger.
func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, normalize(keysAndValues)...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// normalize turns error values into zap.Error fields and stringifies
// values implementing fmt.Stringer, such as peer IDs and CIDs.
func normalize(kv []any) []any {
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i++ {
		key, ok := kv[i].(string)
		if !ok || i+1 >= len(kv) {
			out = append(out, kv[i])
			continue
		}
		i++
		switch v := kv[i].(type) {
		case error:
			out = append(out, zap.NamedError(key, v))
		case fmt.Stringer:
			out = append(out, zap.Stringer(key, v))
		default:
			out = append(out, key, v)
		}
	}
	return out
}

// ParseLevel maps "debug", "info", "warn" and "error" to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Build creates a zap logger at level writing "console" or "json" output
// to stderr.
func Build(level, format string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	switch format {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
