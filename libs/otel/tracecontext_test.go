package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContext_RestoreThenCapture(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tc := TraceContext{Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	ctx := tc.Restore(context.Background())
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsRemote() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if got := CaptureTraceContext(ctx); got.Traceparent != tc.Traceparent {
		t.Fatalf("captured %q, want %q", got.Traceparent, tc.Traceparent)
	}
}

func TestTraceContext_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	if got := (TraceContext{}).Restore(ctx); got != ctx {
		t.Fatal("empty trace context should return ctx unchanged")
	}
	if !CaptureTraceContext(ctx).Empty() {
		t.Fatal("expected nothing to capture without a span")
	}
}
