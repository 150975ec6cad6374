package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return exporter
}

func TestStartSpanAndEndSpan(t *testing.T) {
	exporter := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "payout.execute", attribute.String("payout.provider", "stripe"))
	if TraceID(ctx) == "" {
		t.Fatalf("trace id should be set inside a span")
	}
	AddSpanAttributes(span, attribute.String("payout.result", "failed"))
	EndSpan(span, errors.New("destination invalid"))

	_, ok := StartSpan(context.Background(), "reconcile.sweep")
	EndSpan(ok, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	failed := spans[0]
	if failed.Name != "payout.execute" || failed.Status.Code != codes.Error || failed.Status.Description != "destination invalid" {
		t.Fatalf("unexpected failed span: %+v", failed.Status)
	}
	if len(failed.Events) == 0 {
		t.Fatalf("error should be recorded as span event")
	}
	if spans[1].Status.Code != codes.Ok {
		t.Fatalf("successful span status want ok got %v", spans[1].Status.Code)
	}
}

func TestTraceIDWithoutSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Fatalf("trace id want empty got %s", got)
	}
	EndSpan(nil, errors.New("ignored"))
}
