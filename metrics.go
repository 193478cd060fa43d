package cinderlink

import "github.com/blockberries/cinderlink/internal/observability"

// Metrics collects client counters. See the prometheus package for a
// Prometheus implementation.
//
// Implementations must be safe for concurrent use.
type Metrics = observability.Metrics

// NopMetrics discards all metrics. It is the default.
type NopMetrics = observability.NopMetrics

// Tracer opens spans around send, publish, request, resolve and save.
// See the otel package for an OpenTelemetry implementation.
type Tracer = observability.Tracer

// NopTracer opens no spans. It is the default.
type NopTracer = observability.NopTracer

// EndFunc finishes a span opened by a Tracer.
type EndFunc = observability.EndFunc
