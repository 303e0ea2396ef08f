// Package telemetry installs the OpenTelemetry tracer provider and the W3C
// trace-context propagator.
package telemetry

import (
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options controls span export.
type Options struct {
	// Stdout exports finished spans as JSON to Output.
	Stdout bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// Setup creates a tracer provider for serviceName and installs it globally.
// Spans are always recorded so trace ids propagate between hops; they are
// only exported when an exporter is enabled. Callers must Shutdown the
// returned provider.
func Setup(serviceName string, opts Options) (*sdktrace.TracerProvider, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if opts.Stdout {
		out := opts.Output
		if out == nil {
			out = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, err
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp, nil
}
