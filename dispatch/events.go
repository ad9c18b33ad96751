package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/skillflow/types"
)

// EventKind identifies an execution event.
type EventKind string

const (
	EventStepStarted   EventKind = "step_started"
	EventStepRetried   EventKind = "step_retried"
	EventStepSucceeded EventKind = "step_succeeded"
	EventStepFailed    EventKind = "step_failed"
	EventPlanEscalated EventKind = "plan_escalated"
	EventPlanCompleted EventKind = "plan_completed"
)

// Event is one execution observation emitted by the engine.
type Event struct {
	Kind    EventKind
	TraceID string
	AgentID string
	Skill   string

	// Attempt numbers handler invocations from 0; -1 for plan-level events.
	Attempt int

	Latency time.Duration
	Outcome string
	Err     error
}

// Recorder consumes execution events. The engine never writes logs or
// metrics to a concrete backend directly; it only calls Record.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// NopRecorder discards every event.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Event) {}

// MultiRecorder fans an event out to several recorders in order.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(ctx context.Context, ev Event) {
	for _, r := range m {
		r.Record(ctx, ev)
	}
}

// ZapRecorder writes events as structured logs.
type ZapRecorder struct {
	logger *zap.Logger
}

// NewZapRecorder creates a recorder logging with the given logger.
func NewZapRecorder(logger *zap.Logger) *ZapRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapRecorder{logger: logger.With(zap.String("component", "dispatch"))}
}

// Record implements Recorder.
func (r *ZapRecorder) Record(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("trace_id", ev.TraceID),
		zap.String("agent_id", ev.AgentID),
		zap.String("skill", ev.Skill),
		zap.Int("attempt", ev.Attempt),
		zap.Duration("latency", ev.Latency),
		zap.String("outcome", ev.Outcome),
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}

	switch ev.Kind {
	case EventStepStarted:
		r.logger.Debug("step started", fields...)
	case EventStepRetried:
		r.logger.Warn("step retried", fields...)
	case EventStepSucceeded:
		r.logger.Info("step succeeded", fields...)
	case EventStepFailed:
		r.logger.Error("step failed", fields...)
	case EventPlanEscalated:
		r.logger.Warn("plan escalated", fields...)
	case EventPlanCompleted:
		r.logger.Info("plan completed", fields...)
	}
}

// ThrottledRecorder bounds retry-event volume under retry storms. The first
// Burst StepRetried events per step pass at full rate; beyond that a shared
// limiter gates them. Terminal events always pass through.
type ThrottledRecorder struct {
	inner   Recorder
	burst   int
	limiter *rate.Limiter

	mu     sync.Mutex
	counts map[string]map[string]int // trace_id -> skill -> retries seen
}

// NewThrottledRecorder wraps inner with per-step retry throttling. burst is
// the number of retries per step recorded unconditionally; perSecond caps
// the rate of the overflow.
func NewThrottledRecorder(inner Recorder, burst int, perSecond float64) *ThrottledRecorder {
	if burst <= 0 {
		burst = 3
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &ThrottledRecorder{
		inner:   inner,
		burst:   burst,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		counts:  make(map[string]map[string]int),
	}
}

// Record implements Recorder.
func (t *ThrottledRecorder) Record(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventStepRetried:
		if !t.allowRetry(ev.TraceID, ev.Skill) {
			return
		}
	case EventPlanCompleted:
		t.forget(ev.TraceID)
	}
	t.inner.Record(ctx, ev)
}

func (t *ThrottledRecorder) allowRetry(traceID, skill string) bool {
	t.mu.Lock()
	skills, ok := t.counts[traceID]
	if !ok {
		skills = make(map[string]int)
		t.counts[traceID] = skills
	}
	skills[skill]++
	seen := skills[skill]
	t.mu.Unlock()

	if seen <= t.burst {
		return true
	}
	return t.limiter.Allow()
}

func (t *ThrottledRecorder) forget(traceID string) {
	t.mu.Lock()
	delete(t.counts, traceID)
	t.mu.Unlock()
}

// event helpers keep engine call sites short.

func stepEvent(kind EventKind, traceID string, step *types.PlanStep, attempt int, latency time.Duration, outcome string, err error) Event {
	return Event{
		Kind:    kind,
		TraceID: traceID,
		AgentID: step.AgentID,
		Skill:   step.SkillName,
		Attempt: attempt,
		Latency: latency,
		Outcome: outcome,
		Err:     err,
	}
}

func planEvent(kind EventKind, traceID, agentID, skill string, latency time.Duration, outcome string, err error) Event {
	return Event{
		Kind:    kind,
		TraceID: traceID,
		AgentID: agentID,
		Skill:   skill,
		Attempt: -1,
		Latency: latency,
		Outcome: outcome,
		Err:     err,
	}
}
