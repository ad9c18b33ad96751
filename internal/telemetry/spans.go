package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/skillflow/dispatch"
)

const instrumentationName = "github.com/BaSui01/skillflow/dispatch"

// SpanRecorder turns engine events into OpenTelemetry spans. The event
// stream reports attempts only once they finish, carrying the measured
// latency, so spans are built retrospectively: opened with a back-dated
// start timestamp and closed immediately. Step spans parent to whatever
// span the dispatch context already carries.
type SpanRecorder struct {
	tracer trace.Tracer
}

// NewSpanRecorder creates a recorder on tp. A nil tp falls back to the
// global provider, which is noop until Init runs with telemetry enabled.
func NewSpanRecorder(tp trace.TracerProvider) *SpanRecorder {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &SpanRecorder{tracer: tp.Tracer(instrumentationName)}
}

// Record implements dispatch.Recorder.
func (r *SpanRecorder) Record(ctx context.Context, ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EventStepRetried, dispatch.EventStepSucceeded, dispatch.EventStepFailed:
		r.stepSpan(ctx, ev)
	case dispatch.EventPlanEscalated:
		r.escalationSpan(ctx, ev)
	case dispatch.EventPlanCompleted:
		r.planSpan(ctx, ev)
	}
}

func (r *SpanRecorder) stepSpan(ctx context.Context, ev dispatch.Event) {
	end := time.Now()
	_, span := r.tracer.Start(ctx, "dispatch.step",
		trace.WithTimestamp(end.Add(-ev.Latency)),
		trace.WithAttributes(
			attribute.String("trace.id", ev.TraceID),
			attribute.String("agent.id", ev.AgentID),
			attribute.String("skill.name", ev.Skill),
			attribute.Int("dispatch.attempt", ev.Attempt),
			attribute.String("dispatch.outcome", stepOutcome(ev.Kind)),
		))
	if ev.Err != nil {
		span.RecordError(ev.Err)
	}
	if ev.Outcome != "" {
		span.SetAttributes(attribute.String("dispatch.detail", ev.Outcome))
	}
	span.End(trace.WithTimestamp(end))
}

func (r *SpanRecorder) escalationSpan(ctx context.Context, ev dispatch.Event) {
	now := time.Now()
	_, span := r.tracer.Start(ctx, "dispatch.escalation",
		trace.WithTimestamp(now),
		trace.WithAttributes(
			attribute.String("trace.id", ev.TraceID),
			attribute.String("agent.id", ev.AgentID),
			attribute.String("skill.name", ev.Skill),
			attribute.String("dispatch.route", ev.Outcome),
		))
	span.End(trace.WithTimestamp(now))
}

func (r *SpanRecorder) planSpan(ctx context.Context, ev dispatch.Event) {
	end := time.Now()
	_, span := r.tracer.Start(ctx, "dispatch.plan",
		trace.WithTimestamp(end.Add(-ev.Latency)),
		trace.WithAttributes(
			attribute.String("trace.id", ev.TraceID),
			attribute.String("agent.id", ev.AgentID),
			attribute.String("skill.name", ev.Skill),
			attribute.String("dispatch.status", ev.Outcome),
		))
	span.End(trace.WithTimestamp(end))
}

func stepOutcome(kind dispatch.EventKind) string {
	switch kind {
	case dispatch.EventStepRetried:
		return "retry"
	case dispatch.EventStepSucceeded:
		return "success"
	default:
		return "failure"
	}
}
