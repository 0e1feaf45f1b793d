package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "livevoice".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TraceExporter receives finished spans. When nil, spans are sampled for
	// log correlation but never exported.
	TraceExporter sdktrace.SpanExporter

	// Registerer receives the collectors of the Prometheus bridge. When nil,
	// [prometheus.DefaultRegisterer] is used.
	Registerer prometheus.Registerer
}

// Telemetry holds the SDK providers installed by [InitProvider] and the
// livevoice instruments created on them.
type Telemetry struct {
	// Metrics are bound to the Prometheus-bridged meter provider.
	Metrics *Metrics

	meters *sdkmetric.MeterProvider
	tracer *sdktrace.TracerProvider
}

// InitProvider installs global meter and tracer providers for the service.
// Metrics are exported through a Prometheus collector registered on
// cfg.Registerer, so they can be scraped from /metrics.
//
// Call [Telemetry.Shutdown] before exit to flush pending spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "livevoice"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	exporter, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		),
	}
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	t.tracer = sdktrace.NewTracerProvider(tpOpts...)

	if t.Metrics, err = NewMetrics(t.meters); err != nil {
		return nil, errors.Join(fmt.Errorf("observe: create instruments: %w", err), t.Shutdown(ctx))
	}

	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.tracer)
	return t, nil
}

// Shutdown flushes and stops both providers. Errors are joined.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meters.Shutdown(ctx), t.tracer.Shutdown(ctx))
}
