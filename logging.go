package cinderlink

import "github.com/blockberries/cinderlink/internal/observability"

// Logger is the structured logging interface used by every component.
// It is compatible with slog, zap (see the zaplog package) and zerolog
// style loggers.
//
// Implementations must be safe for concurrent use.
type Logger = observability.Logger

// NopLogger discards all log messages. It is the default.
type NopLogger = observability.NopLogger
