// Package telemetry sets up the OpenTelemetry meter and tracer providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects which providers are backed by real exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is a host:port of an OTLP gRPC collector. Empty disables tracing.
	OTLPEndpoint string
}

// Providers holds the meter and tracer providers plus the Prometheus
// registry the meter provider exports to.
type Providers struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	registry  *prometheus.Registry
	shutdowns []func(context.Context) error
}

// New creates the providers. Metrics always go to a private Prometheus
// registry served by Handler.
func New(ctx context.Context, cfg Config) (*Providers, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("service.component", "lookup"),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("could not create prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	p := &Providers{
		MeterProvider: meterProvider,
		registry:      registry,
		shutdowns:     []func(context.Context) error{meterProvider.Shutdown},
	}

	if cfg.OTLPEndpoint == "" {
		p.TracerProvider = noop.NewTracerProvider()
		return p, nil
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("could not create trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	p.TracerProvider = tracerProvider
	p.shutdowns = append(p.shutdowns, tracerProvider.Shutdown)

	return p, nil
}

// Handler serves the Prometheus text exposition of all recorded metrics.
func (p *Providers) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Shutdown flushes and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range p.shutdowns {
		if err := shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
