// Package telemetry wires optional OpenTelemetry tracing and metrics
// around the HTTP surface; the ingestion pipeline itself carries no spans
// or metrics of its own (SPEC_FULL.md §6
// OTEL_EXPORTER_OTLP_ENDPOINT, expansion). Grounded on internal/telemetry's
// Setup-returns-shutdown-func idiom, generalised from its gRPC trace
// exporter to the HTTP exporters the reference stack also carries
// (otlptracehttp, otlpmetrichttp) and extended with a metrics provider; a
// no-op provider is used whenever no endpoint is configured, so the
// ambient tracing/metrics concern is always present even though it is
// never load-bearing for correctness.
package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the OTLP endpoint settings; an empty Endpoint disables
// telemetry and Setup returns no-op providers.
type Config struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Providers bundles the tracer and meter used across cortex components.
type Providers struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	Shutdown func(context.Context) error
}

// Setup initialises OpenTelemetry tracing and metrics from cfg, returning
// no-op providers when cfg.Endpoint is empty.
func Setup(ctx context.Context, cfg Config) (Providers, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "cortex-memory-service"
	}
	if cfg.Endpoint == "" {
		return Providers{
			Tracer:   otel.Tracer(name),
			Meter:    otel.Meter(name),
			Shutdown: func(context.Context) error { return nil },
		}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return Providers{}, err
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return Providers{}, err
	}
	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return Providers{}, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter), sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return Providers{
		Tracer: tp.Tracer(name),
		Meter:  mp.Meter(name),
		Shutdown: func(shutdownCtx context.Context) error {
			if err := tp.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return mp.Shutdown(shutdownCtx)
		},
	}, nil
}

// Wrap instruments h with otelhttp, naming its span after operation (e.g.
// the route pattern it serves).
func Wrap(operation string, h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, operation)
}
