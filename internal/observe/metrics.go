// Package observe holds the livevoice telemetry: OpenTelemetry instruments
// for the capture, channel and playback paths, tracing helpers, trace-aware
// logging and the HTTP middleware.
//
// [InitProvider] bridges metrics to Prometheus for the /metrics endpoint.
// Components fall back to [DefaultMetrics] on the global provider; tests pass
// [NewMetrics] bound to a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livevoice metrics.
const meterName = "github.com/MrWong99/livevoice"

// Frame drop reasons used with [Metrics.RecordFrameDropped].
const (
	DropClosed       = "closed"
	DropBackpressure = "backpressure"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// FramesCaptured counts microphone frames pulled by the capture loop.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts captured frames that were never sent. Use with attribute:
	//   attribute.String("reason", DropClosed|DropBackpressure)
	FramesDropped metric.Int64Counter

	// --- Channel ---

	// ChunksSent counts audio chunks accepted by the session channel.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts inbound audio chunks.
	ChunksReceived metric.Int64Counter

	// ChannelOpenDuration tracks how long the remote endpoint took to accept
	// a session.
	ChannelOpenDuration metric.Float64Histogram

	// SessionErrors counts sessions that ended in the error state. Use with attribute:
	//   attribute.String("kind", "channel_open"|"transport"|"device"|...)
	SessionErrors metric.Int64Counter

	// --- Playback ---

	// MalformedChunks counts inbound chunks dropped because they could not be
	// decoded.
	MalformedChunks metric.Int64Counter

	// Interruptions counts barge-in events honoured by the scheduler.
	Interruptions metric.Int64Counter

	// PlaybackLead tracks how far ahead of the device clock each chunk was
	// scheduled, in seconds.
	PlaybackLead metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for session setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// leadBuckets covers the playback queue depth, from an almost starved
// speaker to several seconds of buffered speech.
var leadBuckets = []float64{
	0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("livevoice.capture.frames",
		metric.WithDescription("Total microphone frames captured."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("livevoice.capture.frames_dropped",
		metric.WithDescription("Total captured frames dropped before sending, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("livevoice.channel.chunks_sent",
		metric.WithDescription("Total audio chunks handed to the session channel."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("livevoice.channel.chunks_received",
		metric.WithDescription("Total audio chunks received from the session channel."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("livevoice.session.errors",
		metric.WithDescription("Total sessions ended by a fault, by kind."),
	); err != nil {
		return nil, err
	}
	if met.MalformedChunks, err = m.Int64Counter("livevoice.playback.malformed_chunks",
		metric.WithDescription("Total inbound chunks dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("livevoice.playback.interruptions",
		metric.WithDescription("Total barge-in interruptions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ChannelOpenDuration, err = m.Float64Histogram("livevoice.channel.open.duration",
		metric.WithDescription("Latency until the remote endpoint accepted a session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLead, err = m.Float64Histogram("livevoice.playback.lead",
		metric.WithDescription("Distance between a chunk's scheduled start and the device clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livevoice.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livevoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameDropped records one dropped capture frame with its reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSessionError records a session fault of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
