package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer makes a synchronous in-memory tracer the global provider for
// the duration of the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureDefaultLog redirects the default logger into a buffer.
func captureDefaultLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

var hexTraceID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestStartSpan_RecordsNamedSpan(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "voice.channel.open")
	if cid := CorrelationID(ctx); !hexTraceID.MatchString(cid) {
		t.Errorf("CorrelationID = %q, want 32 hex characters", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "voice.channel.open" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestFail_MarksSpan(t *testing.T) {
	exp := installTracer(t)

	_, span := StartSpan(context.Background(), "connect")
	Fail(span, errors.New("handshake refused"), "channel open failed")
	span.End()

	got := exp.GetSpans()[0]
	if got.Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", got.Status.Code)
	}
	if got.Status.Description != "channel open failed" {
		t.Errorf("status description = %q", got.Status.Description)
	}
	if len(got.Events) != 1 || got.Events[0].Name != "exception" {
		t.Errorf("events = %+v, want one exception event", got.Events)
	}
}

func TestCorrelationID_DistinctPerTrace(t *testing.T) {
	installTracer(t)

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "request")
		cid := CorrelationID(ctx)
		span.End()
		if seen[cid] {
			t.Fatalf("trace ID %s issued twice", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		withSpan  bool
		wantTrace bool
	}{
		{name: "without span", withSpan: false, wantTrace: false},
		{name: "inside span", withSpan: true, wantTrace: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			installTracer(t)
			buf := captureDefaultLog(t)

			ctx := context.Background()
			if tc.withSpan {
				c, s := StartSpan(ctx, "session.start")
				defer s.End()
				ctx = c
			}
			Logger(ctx).Info("session starting")

			out := buf.String()
			if got := strings.Contains(out, "trace_id="); got != tc.wantTrace {
				t.Errorf("trace_id present = %v, want %v; log: %s", got, tc.wantTrace, out)
			}
			if got := strings.Contains(out, "span_id="); got != tc.wantTrace {
				t.Errorf("span_id present = %v, want %v; log: %s", got, tc.wantTrace, out)
			}
		})
	}
}
