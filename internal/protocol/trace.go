package protocol

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
)

// tracePropagator is fixed to W3C trace context so the carried keys do not
// depend on process-global configuration.
var tracePropagator = propagation.TraceContext{}

// InjectTraceContext returns the span context of ctx as a string map suitable
// for Change.TraceContext. The map is empty when ctx carries no valid span.
func InjectTraceContext(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	tracePropagator.Inject(ctx, carrier)
	return carrier
}

// ExtractTraceContext returns ctx with the remote span context found in tc,
// if any, set as parent.
func ExtractTraceContext(ctx context.Context, tc map[string]string) context.Context {
	if len(tc) == 0 {
		return ctx
	}
	return tracePropagator.Extract(ctx, propagation.MapCarrier(tc))
}

// NewChange builds a Change originating here: it gets a fresh id and the
// trace context of ctx.
func NewChange(ctx context.Context, batch ChangeBatch) Change {
	return Change{
		ID:           uuid.New(),
		Change:       batch,
		TraceContext: InjectTraceContext(ctx),
	}
}
