package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/BaSui01/skillflow/dispatch"
	"github.com/BaSui01/skillflow/types"
)

func newTestSpanRecorder(t *testing.T) (*SpanRecorder, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return NewSpanRecorder(tp), exporter
}

func TestSpanRecorder_StepSucceeded(t *testing.T) {
	r, exporter := newTestSpanRecorder(t)

	r.Record(context.Background(), dispatch.Event{
		Kind:    dispatch.EventStepSucceeded,
		TraceID: "trace-1",
		AgentID: "react-agent",
		Skill:   "react-hooks",
		Attempt: 1,
		Latency: 8 * time.Millisecond,
		Outcome: "rendered 3 examples",
	})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "dispatch.step", span.Name)
	assert.Contains(t, span.Attributes, attribute.String("trace.id", "trace-1"))
	assert.Contains(t, span.Attributes, attribute.String("agent.id", "react-agent"))
	assert.Contains(t, span.Attributes, attribute.String("skill.name", "react-hooks"))
	assert.Contains(t, span.Attributes, attribute.Int("dispatch.attempt", 1))
	assert.Contains(t, span.Attributes, attribute.String("dispatch.outcome", "success"))
	assert.Contains(t, span.Attributes, attribute.String("dispatch.detail", "rendered 3 examples"))

	// The span is back-dated by exactly the reported latency.
	assert.Equal(t, 8*time.Millisecond, span.EndTime.Sub(span.StartTime))
}

func TestSpanRecorder_StepFailedRecordsError(t *testing.T) {
	r, exporter := newTestSpanRecorder(t)

	stepErr := types.NewError(types.ErrHandlerFailure, "render backend unavailable")
	r.Record(context.Background(), dispatch.Event{
		Kind:    dispatch.EventStepFailed,
		TraceID: "trace-1",
		AgentID: "react-agent",
		Skill:   "ssr-ssg-frameworks",
		Attempt: 4,
		Latency: 12 * time.Millisecond,
		Err:     stepErr,
	})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "dispatch.step", span.Name)
	assert.Contains(t, span.Attributes, attribute.String("dispatch.outcome", "failure"))

	require.NotEmpty(t, span.Events)
	assert.Equal(t, "exception", span.Events[0].Name)
}

func TestSpanRecorder_StepRetried(t *testing.T) {
	r, exporter := newTestSpanRecorder(t)

	r.Record(context.Background(), dispatch.Event{
		Kind:    dispatch.EventStepRetried,
		TraceID: "trace-1",
		AgentID: "react-agent",
		Skill:   "react-hooks",
		Attempt: 2,
		Latency: 3 * time.Millisecond,
		Outcome: "retrying in 100ms",
		Err:     assert.AnError,
	})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes, attribute.String("dispatch.outcome", "retry"))
	assert.Contains(t, spans[0].Attributes, attribute.String("dispatch.detail", "retrying in 100ms"))
}

func TestSpanRecorder_StepStartedEmitsNothing(t *testing.T) {
	r, exporter := newTestSpanRecorder(t)

	// Starts carry no latency; the span is built when the attempt ends.
	r.Record(context.Background(), dispatch.Event{
		Kind:    dispatch.EventStepStarted,
		TraceID: "trace-1",
		AgentID: "react-agent",
		Skill:   "react-hooks",
	})

	assert.Empty(t, exporter.GetSpans())
}

func TestSpanRecorder_PlanEvents(t *testing.T) {
	r, exporter := newTestSpanRecorder(t)
	ctx := context.Background()

	r.Record(ctx, dispatch.Event{
		Kind:    dispatch.EventPlanEscalated,
		TraceID: "trace-1",
		AgentID: "frameworks-agent",
		Skill:   "ssr-ssg-frameworks",
		Attempt: -1,
		Outcome: "fallback_agent",
	})
	r.Record(ctx, dispatch.Event{
		Kind:    dispatch.EventPlanCompleted,
		TraceID: "trace-1",
		AgentID: "react-agent",
		Skill:   "ssr-ssg-frameworks",
		Attempt: -1,
		Latency: 150 * time.Millisecond,
		Outcome: "ESCALATED",
	})

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "dispatch.escalation", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("dispatch.route", "fallback_agent"))
	assert.Equal(t, spans[0].StartTime, spans[0].EndTime)

	assert.Equal(t, "dispatch.plan", spans[1].Name)
	assert.Contains(t, spans[1].Attributes, attribute.String("dispatch.status", "ESCALATED"))
	assert.Equal(t, 150*time.Millisecond, spans[1].EndTime.Sub(spans[1].StartTime))
}

func TestNewSpanRecorder_NilProviderUsesGlobal(t *testing.T) {
	r := NewSpanRecorder(nil)
	require.NotNil(t, r)

	// Global provider is noop in tests; recording must still be safe.
	assert.NotPanics(t, func() {
		r.Record(context.Background(), dispatch.Event{
			Kind:    dispatch.EventStepSucceeded,
			TraceID: "trace-1",
			AgentID: "react-agent",
			Skill:   "react-hooks",
			Attempt: 1,
		})
	})
}
