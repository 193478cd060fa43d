// Package otel provides OpenTelemetry tracing integration for Cinderlink.
//
// # Span Names
//
// The client opens the following spans:
//
//	cinderlink.send              direct message delivery, including retries
//	cinderlink.request           send plus wait for the correlated reply
//	cinderlink.publish           broadcast on a pubsub topic
//	cinderlink.identity.resolve  local, naming and server lookup of the identity root
//	cinderlink.identity.save     persisting and pushing the identity root
//
// # Attributes
//
// Common span attributes include:
//   - peer.id: the remote peer's ID
//   - topic: the message topic
//   - request.id: the correlation id of a request
//
// # Example Usage
//
//	tracer := cinderlinkotel.NewTracer(otel.GetTracerProvider())
//	cfg := cinderlink.NewConfig(key, cinderlink.WithTracer(tracer))
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/blockberries/cinderlink"
)

const (
	// TracerName is the name used for the OpenTelemetry tracer.
	TracerName = "github.com/blockberries/cinderlink"

	// SpanPrefix is prepended to every operation name.
	SpanPrefix = "cinderlink."

	// Attribute keys
	AttrPeerID    = "peer.id"
	AttrTopic     = "topic"
	AttrRequestID = "request.id"
)

// Tracer implements cinderlink.Tracer on an OpenTelemetry TracerProvider.
//
// Tracer is safe for concurrent use.
type Tracer struct {
	tracer trace.Tracer
}

var _ cinderlink.Tracer = (*Tracer)(nil)

// NewTracer creates a new Tracer using the given TracerProvider.
// If provider is nil, a no-op tracer is used.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(TracerName)}
}

// Start opens a span named SpanPrefix+op. attrs are alternating key/value
// pairs; a trailing key without a value is ignored. The returned func ends
// the span and marks it failed when err is non-nil.
func (t *Tracer) Start(ctx context.Context, op string, attrs ...string) (context.Context, cinderlink.EndFunc) {
	kv := make([]attribute.KeyValue, 0, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		kv = append(kv, attribute.String(attrs[i], attrs[i+1]))
	}

	ctx, span := t.tracer.Start(ctx, SpanPrefix+op,
		trace.WithAttributes(kv...),
		trace.WithSpanKind(spanKind(op)),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func spanKind(op string) trace.SpanKind {
	switch op {
	case "send", "publish":
		return trace.SpanKindProducer
	case "request":
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}
