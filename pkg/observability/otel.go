// Package observability wires OpenTelemetry tracing for gateway calls.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by the client transport.
const TracerName = "GoGate/pkg/client"

// Setup installs a batching OTLP/HTTP tracer provider as the global provider.
// With an empty endpoint nothing is installed and the returned shutdown is a no-op.
func Setup(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.Empty()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the client tracer from the global provider. Until Setup is
// called this is the OpenTelemetry no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
