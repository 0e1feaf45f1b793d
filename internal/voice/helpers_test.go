package voice

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterSum adds up all data points of the int64 sum metric name whose
// attributes include every key/value in match.
func counterSum(t *testing.T, reader *sdkmetric.ManualReader, name string, match ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s has type %T, want Sum[int64]", name, met.Data)
			}
		dp:
			for _, p := range sum.DataPoints {
				for _, kv := range match {
					v, ok := p.Attributes.Value(kv.Key)
					if !ok || v != kv.Value {
						continue dp
					}
				}
				total += p.Value
			}
		}
	}
	return total
}

// pcmChunk returns a silent mono chunk of the given length in seconds.
func pcmChunk(rate int, seconds float64) audio.EncodedChunk {
	frames := int(float64(rate) * seconds)
	return audio.EncodedChunk{Data: make([]byte, frames*2), SampleRate: rate, Channels: 1}
}

// micFrame returns a silent 16 kHz capture frame.
func micFrame() audio.AudioFrame {
	return audio.AudioFrame{Samples: make([]float32, 160), SampleRate: audio.InputSampleRate, Channels: 1}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
