// Package telemetry installs the OpenTelemetry tracer provider that the
// pipeline spans are exported through.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/hupe1980/reviewrag/logging"
)

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

// Options configures Init.
type Options struct {
	ServiceName string
	// Insecure exports over plain HTTP, as local Jaeger collectors expect.
	Insecure bool
	// Exporter replaces the OTLP exporter, mainly for tests.
	Exporter sdktrace.SpanExporter
	Logger   logging.Logger
}

// Init exports spans to the OTLP/HTTP endpoint (host:port) and registers the
// provider globally. Tracing stays disabled when endpoint is empty and no
// exporter is supplied; the returned ShutdownFunc is then a no-op.
func Init(ctx context.Context, endpoint string, optFns ...func(o *Options)) (ShutdownFunc, error) {
	opts := Options{ServiceName: "reviewrag", Insecure: true, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	exporter := opts.Exporter
	if exporter == nil {
		if endpoint == "" {
			opts.Logger.Debug("tracing disabled, no OTLP endpoint configured")
			return func(context.Context) error { return nil }, nil
		}
		clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if opts.Insecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		exporter = exp
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	opts.Logger.Info("tracing initialized", "endpoint", endpoint, "service", opts.ServiceName)

	return tp.Shutdown, nil
}
