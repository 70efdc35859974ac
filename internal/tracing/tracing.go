// Package tracing switches the global otel tracer provider between the no-op
// default and an SDK provider that batches spans to an OTLP/HTTP collector.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "analyst"

// DefaultEndpoint is where a local Jaeger or otel collector accepts OTLP/HTTP.
const DefaultEndpoint = "localhost:4318"

// Options configures Init.
type Options struct {
	Enabled bool
	// Endpoint is host:port (plain HTTP) or a full URL such as
	// https://collector.example.com/v1/traces. Empty means DefaultEndpoint.
	Endpoint string
}

// Init installs an SDK tracer provider exporting to opts.Endpoint and returns
// its shutdown function, which flushes pending spans. When disabled the global
// no-op provider stays in place. Extra provider options are appended, so tests
// can add a span recorder.
func Init(ctx context.Context, opts Options, extra ...sdktrace.TracerProviderOption) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, endpointOptions(opts.Endpoint)...)
	if err != nil {
		return noop, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	}
	tp := sdktrace.NewTracerProvider(append(base, extra...)...)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func endpointOptions(endpoint string) []otlptracehttp.Option {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if strings.Contains(endpoint, "://") {
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	}
	return []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	}
}
