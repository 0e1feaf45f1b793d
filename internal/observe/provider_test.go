package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestInitProvider_ExportsToRegistry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	tel, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test", Registerer: reg})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if tel.Metrics == nil {
		t.Fatal("Telemetry.Metrics is nil")
	}
	tel.Metrics.ChunksSent.Add(ctx, 3)
	tel.Metrics.RecordFrameDropped(ctx, DropBackpressure)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, " ")
	for _, want := range []string{"livevoice_channel_chunks_sent", "livevoice_capture_frames_dropped"} {
		if !strings.Contains(joined, want) {
			t.Errorf("registry is missing %s; have %s", want, joined)
		}
	}

	// Spans started through the package tracer are real, sampled spans.
	spanCtx, span := StartSpan(ctx, "test.span")
	defer span.End()
	if CorrelationID(spanCtx) == "" {
		t.Error("global tracer provider was not installed")
	}
}

func TestTelemetry_ShutdownTwice(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	// The SDK reports repeated shutdowns; the call must not panic.
	_ = tel.Shutdown(context.Background())
}
