package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	keyTraceparent = "traceparent"
	keyTracestate  = "tracestate"
)

// TraceContext is the W3C trace context in its serialized form, suitable for a
// database column or a message header.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

// CaptureTraceContext serializes the span context active in ctx. Both fields
// are empty when ctx carries no valid span.
func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier[keyTraceparent], Tracestate: carrier[keyTracestate]}
}

func (tc TraceContext) Empty() bool {
	return tc.Traceparent == ""
}

// Restore makes tc the remote parent of spans started from the returned context.
func (tc TraceContext) Restore(ctx context.Context) context.Context {
	if tc.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{keyTraceparent: tc.Traceparent}
	if tc.Tracestate != "" {
		carrier[keyTracestate] = tc.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
