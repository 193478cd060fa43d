// Package observability holds the logging and metrics contracts shared by
// every Cinderlink component. The root package re-exports them so that
// applications only ever import github.com/blockberries/cinderlink.
package observability

import "context"

// Logger is a structured, leveled logger.
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(msg string, keysAndValues ...any) {}
func (NopLogger) Info(msg string, keysAndValues ...any)  {}
func (NopLogger) Warn(msg string, keysAndValues ...any)  {}
func (NopLogger) Error(msg string, keysAndValues ...any) {}

// Metrics collects counters for client activity.
//
// Metric naming convention follows Prometheus:
//   - Counters: <name>_total
//   - Gauges: current_<name>
//
// Implementations must be safe for concurrent use.
type Metrics interface {
	// MessageSent records an encoded direct message written to a stream.
	MessageSent(topic string, bytes int)

	// MessageReceived records a decoded inbound message (direct or broadcast).
	MessageReceived(topic string, bytes int)

	// PublishResult records a broadcast attempt.
	// Labels: result (success, failure)
	PublishResult(result string)

	// RequestResult records how a request finished.
	// Labels: result (ok, timeout, error)
	RequestResult(result string)

	// SendRetry increments each time a direct send is retried.
	SendRetry()

	// SendBlocked increments each time the outbound window saturates.
	SendBlocked()

	// DialAttempt records a dial result.
	// Labels: result (success, failure, skipped)
	DialAttempt(result string)

	// PeerConnected increments when a peer with a known role connects.
	PeerConnected(role string)

	// PeerDisconnected increments when a peer disconnects.
	PeerDisconnected(role string)

	// PluginStarted records a plugin activation.
	// Labels: result (success, failure)
	PluginStarted(result string)

	// IdentityResolved records which source won a resolve pass.
	// Labels: source (local, naming, server, none)
	IdentityResolved(source string)

	// IdentitySaved records a persisted identity, and whether servers were pushed.
	IdentitySaved(remote bool)

	// EventDropped records an event dropped because a bus queue was full.
	EventDropped(bus string)
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) MessageSent(topic string, bytes int)     {}
func (NopMetrics) MessageReceived(topic string, bytes int) {}
func (NopMetrics) PublishResult(result string)             {}
func (NopMetrics) RequestResult(result string)             {}
func (NopMetrics) SendRetry()                              {}
func (NopMetrics) SendBlocked()                            {}
func (NopMetrics) DialAttempt(result string)               {}
func (NopMetrics) PeerConnected(role string)               {}
func (NopMetrics) PeerDisconnected(role string)            {}
func (NopMetrics) PluginStarted(result string)             {}
func (NopMetrics) IdentityResolved(source string)          {}
func (NopMetrics) IdentitySaved(remote bool)               {}
func (NopMetrics) EventDropped(bus string)                 {}

// EndFunc finishes a span, recording err if non-nil.
type EndFunc func(err error)

// Tracer opens spans around send, publish, request, resolve and save.
// attrs are alternating key/value string pairs.
type Tracer interface {
	Start(ctx context.Context, op string, attrs ...string) (context.Context, EndFunc)
}

// NopTracer opens no spans.
type NopTracer struct{}

var _ Tracer = NopTracer{}

func (NopTracer) Start(ctx context.Context, op string, attrs ...string) (context.Context, EndFunc) {
	return ctx, func(error) {}
}
