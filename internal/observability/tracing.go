package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies the pipeline's spans.
const TracerName = "github.com/raine/listing-pipeline"

// Tracer returns the pipeline tracer from the global provider. It is a no-op
// until InitTracing is called.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// InitTracing installs a global tracer provider that writes finished spans as
// JSON to w. The returned function flushes and stops it.
func InitTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
