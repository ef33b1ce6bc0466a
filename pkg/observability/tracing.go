package observability

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for every span.
const TracerName = "github.com/aretw0/arbor"

// Tracing emits OpenTelemetry spans for update passes and committed transitions.
type Tracing struct {
	tracer trace.Tracer
}

// TracingOption configures Tracing.
type TracingOption func(*Tracing)

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(t *Tracing) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// NewTracing creates span hooks on the global tracer provider unless overridden.
func NewTracing(opts ...TracingOption) *Tracing {
	t := &Tracing{tracer: otel.Tracer(TracerName)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Hooks returns lifecycle hooks that record spans labeled with graph.
// Spans are parented on the context passed to Update.
func (t *Tracing) Hooks(graph string) domain.LifecycleHooks {
	graphAttr := attribute.String("arbor.graph", graph)
	return domain.LifecycleHooks{
		OnUpdated: func(ctx context.Context, e *domain.UpdateEvent) {
			_, span := t.tracer.Start(ctx, "arbor.update",
				trace.WithTimestamp(e.Started),
				trace.WithAttributes(
					graphAttr,
					attribute.Int64("arbor.delta_us", e.Delta.Microseconds()),
					attribute.Int("arbor.transitions_taken", e.TransitionsTaken),
				))
			span.End(trace.WithTimestamp(e.Finished))
		},
		OnTransitionTaken: func(ctx context.Context, e *domain.TransitionTakenEvent) {
			_, span := t.tracer.Start(ctx, "arbor.transition",
				trace.WithTimestamp(e.Timestamp),
				trace.WithAttributes(
					graphAttr,
					attribute.String("arbor.event_id", e.EventID.String()),
					attribute.String("arbor.transition", e.Transition.String()),
					attribute.String("arbor.from", e.From.String()),
					attribute.String("arbor.to", e.To.String()),
					attribute.Int("arbor.chain_length", len(e.Chain)),
				))
			span.End(trace.WithTimestamp(e.Timestamp))
		},
		OnStateChanged: func(ctx context.Context, e *domain.StateChangedEvent) {
			trace.SpanFromContext(ctx).AddEvent("arbor.state_changed", trace.WithAttributes(
				attribute.String("arbor.from_state", e.FromName),
				attribute.String("arbor.to_state", e.ToName),
			))
		},
	}
}
