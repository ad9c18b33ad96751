package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/skillflow/registry"
	"github.com/BaSui01/skillflow/types"
)

// callLog tracks handler invocations per skill and the order in which steps
// completed.
type callLog struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
}

func newCallLog() *callLog {
	return &callLog{calls: make(map[string]int)}
}

func (l *callLog) record(skill string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[skill]++
	return l.calls[skill]
}

func (l *callLog) finished(skill string) {
	l.mu.Lock()
	l.order = append(l.order, skill)
	l.mu.Unlock()
}

func (l *callLog) count(skill string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[skill]
}

func (l *callLog) completionOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func (l *callLog) indexOf(skill string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.order {
		if s == skill {
			return i
		}
	}
	return -1
}

func fastEngine(t *testing.T, snap *registry.Snapshot, mux *HandlerMux, opts ...EngineOption) *Engine {
	t.Helper()
	e := NewEngine(FixedSnapshot(snap), mux, EngineConfig{
		MaxWorkers:  4,
		QueueSize:   16,
		StepTimeout: 2 * time.Second,
		Retry:       RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
	}, opts...)
	t.Cleanup(e.Close)
	return e
}

func okHandler(log *callLog) HandlerFunc {
	return func(_ context.Context, step *StepContext) (*StepOutcome, error) {
		log.record(step.Skill.Name)
		log.finished(step.Skill.Name)
		return &StepOutcome{Detail: "done"}, nil
	}
}

func failingHandler(log *callLog) HandlerFunc {
	return func(_ context.Context, step *StepContext) (*StepOutcome, error) {
		log.record(step.Skill.Name)
		return nil, errors.New("content unavailable")
	}
}

func TestDispatchSingleStepSuccess(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	capture := &captureRecorder{}

	mux := NewHandlerMux().Fallback(okHandler(log))
	e := fastEngine(t, snap, mux, WithRecorder(capture))

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-single",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "trace-single", result.TraceID)
	assert.Equal(t, 1, log.count("react-hooks"))

	step := result.Step("react-hooks")
	require.NotNil(t, step)
	assert.Equal(t, types.StepSuccess, step.Status)
	assert.Equal(t, 1, step.Attempts)
	assert.Len(t, step.AttemptLatencies, 1)

	assert.Equal(t,
		[]EventKind{EventStepStarted, EventStepSucceeded, EventPlanCompleted},
		capture.kinds())
}

func TestDispatchGeneratesTraceID(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	e := fastEngine(t, snap, NewHandlerMux().Fallback(okHandler(log)))

	req := &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
	}
	result, err := e.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, req.TraceID)
	assert.Equal(t, req.TraceID, result.TraceID)
}

func TestDispatchRunsDependenciesFirst(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	e := fastEngine(t, snap, NewHandlerMux().Fallback(okHandler(log)))

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "state-agent",
		SkillName: "redux-state-management",
		TraceID:   "trace-bonds",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, result.Status)
	require.Len(t, log.completionOrder(), 3)

	// The two bonded prerequisites may finish in either order between
	// themselves, but always before the root.
	rootIdx := log.indexOf("redux-state-management")
	assert.Equal(t, 2, rootIdx)
	assert.Less(t, log.indexOf("redux-fundamentals"), rootIdx)
	assert.Less(t, log.indexOf("context-api-patterns"), rootIdx)
}

func TestDispatchRetryBound(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	e := fastEngine(t, snap, NewHandlerMux().Fallback(failingHandler(log)))

	// react-agent allows max_retries=2, so exactly 3 attempts.
	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-retry",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusTerminalFailure, result.Status)
	assert.Equal(t, 3, log.count("react-hooks"))

	step := result.Step("react-hooks")
	require.NotNil(t, step)
	assert.Equal(t, types.StepFailed, step.Status)
	assert.Equal(t, 3, step.Attempts)
	assert.Equal(t, types.ErrHandlerFailure, step.ErrorCode)
	assert.Len(t, step.AttemptLatencies, 3)

	// react-agent has neither fallback_agent nor escalation_path.
	assert.Equal(t, types.ErrNoEscalationPath, result.ErrorCode)
	assert.Nil(t, result.Escalation)
}

func TestDispatchFailFastStrategy(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	e := fastEngine(t, snap, NewHandlerMux().Fallback(failingHandler(log)))

	// frameworks-agent declares fail_fast: a single attempt.
	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "frameworks-agent",
		SkillName: "ssr-ssg-frameworks",
		TraceID:   "trace-failfast",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusTerminalFailure, result.Status)
	assert.Equal(t, 1, log.count("ssr-ssg-frameworks"))
	assert.Equal(t, 1, result.Step("ssr-ssg-frameworks").Attempts)
}

func TestDispatchNonRetryableErrorStopsEarly(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()

	mux := NewHandlerMux().Fallback(HandlerFunc(
		func(_ context.Context, step *StepContext) (*StepOutcome, error) {
			log.record(step.Skill.Name)
			return nil, types.NewError(types.ErrHandlerFailure, "permanently broken").
				WithRetryable(false)
		}))
	e := fastEngine(t, snap, mux)

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-nonretry",
	})
	require.NoError(t, err)

	// Budget would allow 3 attempts; the typed error forbids retrying.
	assert.Equal(t, 1, log.count("react-hooks"))
	assert.Equal(t, types.StatusTerminalFailure, result.Status)
}

func TestDispatchEscalatesToFallbackAgent(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()

	mux := NewHandlerMux().
		HandleAgent("advanced-topics", "ssr-ssg-frameworks", failingHandler(log)).
		Fallback(okHandler(log))
	capture := &captureRecorder{}
	e := fastEngine(t, snap, mux, WithRecorder(capture))

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "advanced-topics",
		SkillName: "ssr-ssg-frameworks",
		TraceID:   "trace-escalate",
	})
	require.NoError(t, err)

	// Primary exhausts its budget of max_retries=3, then the fallback
	// agent serves the same skill.
	assert.Equal(t, types.StatusEscalated, result.Status)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 4, result.Step("ssr-ssg-frameworks").Attempts)

	require.NotNil(t, result.Escalation)
	sub := result.Escalation
	assert.Equal(t, "frameworks-agent", sub.AgentID)
	assert.Equal(t, types.StatusSuccess, sub.Status)
	assert.Equal(t, "advanced-topics", sub.EscalatedFrom)
	assert.Contains(t, sub.EscalationReason, "fallback_agent")
	assert.Equal(t, 1, sub.Step("ssr-ssg-frameworks").Attempts, "fresh budget on the fallback")

	assert.Equal(t, 1, capture.count(EventPlanEscalated))
	assert.Equal(t, 1, capture.count(EventPlanCompleted))
}

func TestDispatchFallbackExhaustedThenTerminalSink(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	e := fastEngine(t, snap, NewHandlerMux().Fallback(failingHandler(log)))

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "advanced-topics",
		SkillName: "ssr-ssg-frameworks",
		TraceID:   "trace-exhausted",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusTerminalFailure, result.Status)
	assert.Equal(t, types.ErrFallbackExhausted, result.ErrorCode)
	assert.Contains(t, result.EscalationReason, "human_review")

	// The fallback hop ran with its own fail_fast policy before giving up.
	require.NotNil(t, result.Escalation)
	assert.Equal(t, "frameworks-agent", result.Escalation.AgentID)
	assert.Equal(t, types.StatusTerminalFailure, result.Escalation.Status)
	assert.Equal(t, 1, result.Escalation.Step("ssr-ssg-frameworks").Attempts)
	assert.Equal(t, 1, result.Depth())

	assert.Equal(t, 4, log.count("ssr-ssg-frameworks"))
}

func TestDispatchFallbackWithoutSkillContinuesChain(t *testing.T) {
	b := registry.NewBuilder()
	require.NoError(t, b.AddAgent(&types.AgentDescriptor{
		ID:            "primary-agent",
		FallbackAgent: "unrelated-agent",
		ErrorPolicy: types.ErrorPolicy{
			Strategy:       types.StrategyFailFast,
			EscalationPath: types.AgentSink("backup-agent"),
		},
	}))
	require.NoError(t, b.AddAgent(&types.AgentDescriptor{ID: "unrelated-agent"}))
	require.NoError(t, b.AddAgent(&types.AgentDescriptor{ID: "backup-agent"}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{Name: "build-tooling", AgentID: "primary-agent"}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{Name: "build-tooling", AgentID: "backup-agent"}))
	snap, err := b.Build()
	require.NoError(t, err)

	log := newCallLog()
	mux := NewHandlerMux().
		HandleAgent("primary-agent", "build-tooling", failingHandler(log)).
		Fallback(okHandler(log))
	e := fastEngine(t, snap, mux)

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "primary-agent",
		SkillName: "build-tooling",
		TraceID:   "trace-chain",
	})
	require.NoError(t, err)

	// The fallback agent does not declare the skill: that hop fails
	// validation and the chain proceeds to the escalation-path agent.
	assert.Equal(t, types.StatusEscalated, result.Status)
	require.NotNil(t, result.Escalation)
	assert.Equal(t, "unrelated-agent", result.Escalation.AgentID)
	assert.Equal(t, types.StatusTerminalFailure, result.Escalation.Status)
	assert.Equal(t, types.ErrUnknownSkill, result.Escalation.ErrorCode)

	require.NotNil(t, result.Escalation.Escalation)
	final := result.Escalation.Escalation
	assert.Equal(t, "backup-agent", final.AgentID)
	assert.Equal(t, types.StatusSuccess, final.Status)
	assert.Contains(t, final.EscalationReason, "escalation_path")
	assert.Equal(t, 2, result.Depth())
}

func TestDispatchOptionalStepFailureIsNonFatal(t *testing.T) {
	b := registry.NewBuilder()
	require.NoError(t, b.AddAgent(&types.AgentDescriptor{
		ID:          "course-agent",
		ErrorPolicy: types.ErrorPolicy{Strategy: types.StrategyRetryWithBackoff, MaxRetries: 1},
	}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{
		Name: "core-course", AgentID: "course-agent", BondType: types.BondPrimary,
	}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{
		Name: "sidebar-notes", AgentID: "course-agent", BondType: types.BondSecondary,
	}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{
		Name: "deep-dive", AgentID: "course-agent", BondType: types.BondPrimary,
		Bonds: []string{"core-course", "sidebar-notes"},
	}))
	snap, err := b.Build()
	require.NoError(t, err)

	log := newCallLog()
	mux := NewHandlerMux().
		Handle("sidebar-notes", failingHandler(log)).
		Fallback(okHandler(log))
	e := fastEngine(t, snap, mux)

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "course-agent",
		SkillName: "deep-dive",
		TraceID:   "trace-optional",
	})
	require.NoError(t, err)

	// The SECONDARY step burned its whole budget and failed; the plan
	// still succeeds because every required step succeeded.
	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Empty(t, result.ErrorCode)
	assert.Nil(t, result.Escalation)

	sidebar := result.Step("sidebar-notes")
	require.NotNil(t, sidebar)
	assert.Equal(t, types.StepFailed, sidebar.Status)
	assert.False(t, sidebar.Required)
	assert.Equal(t, 2, sidebar.Attempts)

	assert.Equal(t, types.StepSuccess, result.Step("deep-dive").Status)
	assert.Equal(t, types.StepSuccess, result.Step("core-course").Status)
}

func TestDispatchRequiredFailureLeavesDependentsPending(t *testing.T) {
	b := registry.NewBuilder()
	require.NoError(t, b.AddAgent(&types.AgentDescriptor{
		ID:          "seq-agent",
		ErrorPolicy: types.ErrorPolicy{Strategy: types.StrategyFailFast},
	}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{
		Name: "foundation", AgentID: "seq-agent", BondType: types.BondPrimary,
	}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{
		Name: "capstone", AgentID: "seq-agent", BondType: types.BondPrimary,
		Bonds: []string{"foundation"},
	}))
	snap, err := b.Build()
	require.NoError(t, err)

	log := newCallLog()
	mux := NewHandlerMux().
		Handle("foundation", failingHandler(log)).
		Fallback(okHandler(log))
	e := fastEngine(t, snap, mux)

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "seq-agent",
		SkillName: "capstone",
		TraceID:   "trace-abort",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusTerminalFailure, result.Status)
	assert.Equal(t, types.StepFailed, result.Step("foundation").Status)
	assert.Equal(t, types.StepPending, result.Step("capstone").Status,
		"dependents of a failed required step never start")
	assert.Equal(t, 0, log.count("capstone"))
}

func TestDispatchAttemptTimeout(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()

	mux := NewHandlerMux().Fallback(HandlerFunc(
		func(ctx context.Context, step *StepContext) (*StepOutcome, error) {
			log.record(step.Skill.Name)
			select {
			case <-time.After(time.Second):
				return &StepOutcome{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

	e := NewEngine(FixedSnapshot(snap), mux, EngineConfig{
		MaxWorkers:  2,
		QueueSize:   8,
		StepTimeout: 20 * time.Millisecond,
		Retry:       RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	t.Cleanup(e.Close)

	// state-agent budget is max_retries=1: two attempts, both timing out.
	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "state-agent",
		SkillName: "redux-fundamentals",
		TraceID:   "trace-timeout",
	})
	require.NoError(t, err)

	step := result.Step("redux-fundamentals")
	require.NotNil(t, step)
	assert.Equal(t, types.StepFailed, step.Status)
	assert.Equal(t, types.ErrTimeout, step.ErrorCode)
	assert.Equal(t, 2, step.Attempts)
	assert.Equal(t, 2, log.count("redux-fundamentals"))
}

func TestDispatchCancellationSkipsEscalation(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	started := make(chan struct{})

	mux := NewHandlerMux().Fallback(HandlerFunc(
		func(ctx context.Context, step *StepContext) (*StepOutcome, error) {
			log.record(step.Skill.Name)
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	e := fastEngine(t, snap, mux)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	// advanced-topics has a fallback agent, but cancellation is not a
	// failure to hand over.
	result, err := e.Dispatch(ctx, &types.Request{
		AgentID:   "advanced-topics",
		SkillName: "ssr-ssg-frameworks",
		TraceID:   "trace-cancel",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusTerminalFailure, result.Status)
	assert.Equal(t, types.ErrCancelled, result.ErrorCode)
	assert.Nil(t, result.Escalation)
	assert.Equal(t, 1, log.count("ssr-ssg-frameworks"))
}

func TestDispatchCancellationDuringBackoff(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()

	mux := NewHandlerMux().Fallback(failingHandler(log))
	e := NewEngine(FixedSnapshot(snap), mux, EngineConfig{
		MaxWorkers: 2,
		QueueSize:  8,
		// A long backoff keeps the step parked when cancel lands.
		Retry: RetryPolicy{BaseDelay: 10 * time.Second, MaxDelay: 20 * time.Second},
	})
	t.Cleanup(e.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := e.Dispatch(ctx, &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-backoff-cancel",
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second,
		"cancellation must abort a parked step without waiting out the backoff")
	assert.Equal(t, types.StatusTerminalFailure, result.Status)
	assert.Equal(t, types.ErrCancelled, result.ErrorCode)
	assert.Equal(t, 1, log.count("react-hooks"))
}

func TestDispatchRejectsDuplicateTrace(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	block := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once

	mux := NewHandlerMux().Fallback(HandlerFunc(
		func(ctx context.Context, step *StepContext) (*StepOutcome, error) {
			log.record(step.Skill.Name)
			startedOnce.Do(func() { close(started) })
			<-block
			return &StepOutcome{}, nil
		}))
	e := fastEngine(t, snap, mux)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := e.Dispatch(context.Background(), &types.Request{
			AgentID:   "react-agent",
			SkillName: "react-hooks",
			Params:    map[string]any{"topic": "useState"},
			TraceID:   "trace-dup",
		})
		assert.NoError(t, err)
	}()

	<-started
	_, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-dup",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateTrace, types.GetErrorCode(err))
	assert.Equal(t, 1, log.count("react-hooks"), "the duplicate never reaches a handler")

	close(block)
	wg.Wait()

	// The released trace id is usable again.
	_, err = e.Dispatch(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-dup",
	})
	assert.NoError(t, err)
}

func TestDispatchValidationFailuresReturnNoResult(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()
	e := fastEngine(t, snap, NewHandlerMux().Fallback(okHandler(log)))

	tests := []struct {
		name     string
		req      *types.Request
		wantCode types.ErrorCode
	}{
		{
			name:     "unknown agent",
			req:      &types.Request{AgentID: "svelte-agent", SkillName: "react-hooks"},
			wantCode: types.ErrAgentNotFound,
		},
		{
			name:     "unknown skill",
			req:      &types.Request{AgentID: "react-agent", SkillName: "no-such-skill"},
			wantCode: types.ErrUnknownSkill,
		},
		{
			name:     "bad params",
			req:      &types.Request{AgentID: "react-agent", SkillName: "react-hooks", Params: map[string]any{"topic": 7}},
			wantCode: types.ErrTypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Dispatch(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
		})
	}
	assert.Empty(t, log.calls, "no handler runs for an invalid request")
}

func TestDispatchMissingHandlerFailsStep(t *testing.T) {
	snap := learningSnapshot(t)
	e := fastEngine(t, snap, NewHandlerMux())

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-nohandler",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusTerminalFailure, result.Status)
	step := result.Step("react-hooks")
	require.NotNil(t, step)
	assert.Equal(t, types.StepFailed, step.Status)
	assert.Equal(t, types.ErrInternal, step.ErrorCode)
	assert.Zero(t, step.Attempts)
}

func TestDispatchRetryEventOrdering(t *testing.T) {
	snap := learningSnapshot(t)
	capture := &captureRecorder{}
	log := newCallLog()

	mux := NewHandlerMux().Fallback(HandlerFunc(
		func(_ context.Context, step *StepContext) (*StepOutcome, error) {
			if log.record(step.Skill.Name) == 1 {
				return nil, errors.New("transient flake")
			}
			return &StepOutcome{}, nil
		}))
	e := fastEngine(t, snap, mux, WithRecorder(capture))

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-events",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.Step("react-hooks").Attempts)
	assert.Equal(t,
		[]EventKind{EventStepStarted, EventStepRetried, EventStepStarted, EventStepSucceeded, EventPlanCompleted},
		capture.kinds())
}

func TestDispatchHandlerPanicIsContained(t *testing.T) {
	snap := learningSnapshot(t)
	log := newCallLog()

	mux := NewHandlerMux().Fallback(HandlerFunc(
		func(_ context.Context, step *StepContext) (*StepOutcome, error) {
			if log.record(step.Skill.Name) == 1 {
				panic("corrupted lesson content")
			}
			return &StepOutcome{}, nil
		}))
	e := fastEngine(t, snap, mux)

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "react-hooks",
		Params:    map[string]any{"topic": "useState"},
		TraceID:   "trace-panic",
	})
	require.NoError(t, err)

	// The panic consumed one attempt; the retry succeeded.
	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.Step("react-hooks").Attempts)
}

func TestDispatchConcurrentIndependentSteps(t *testing.T) {
	b := registry.NewBuilder()
	require.NoError(t, b.AddAgent(&types.AgentDescriptor{ID: "wide-agent"}))
	bonds := make([]string, 0, 6)
	for _, name := range []string{"html-basics", "css-basics", "js-basics", "a11y-basics", "http-basics", "git-basics"} {
		require.NoError(t, b.AddSkill(&types.SkillDescriptor{
			Name: name, AgentID: "wide-agent", BondType: types.BondPrimary,
		}))
		bonds = append(bonds, name)
	}
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{
		Name: "frontend-overview", AgentID: "wide-agent", Bonds: bonds,
	}))
	snap, err := b.Build()
	require.NoError(t, err)

	var mu sync.Mutex
	running, peak := 0, 0
	mux := NewHandlerMux().Fallback(HandlerFunc(
		func(_ context.Context, step *StepContext) (*StepOutcome, error) {
			if step.Skill.Name == "frontend-overview" {
				return &StepOutcome{}, nil
			}
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return &StepOutcome{}, nil
		}))

	e := NewEngine(FixedSnapshot(snap), mux, EngineConfig{
		MaxWorkers: 3,
		QueueSize:  16,
		Retry:      RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	t.Cleanup(e.Close)

	result, err := e.Dispatch(context.Background(), &types.Request{
		AgentID:   "wide-agent",
		SkillName: "frontend-overview",
		TraceID:   "trace-wide",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, result.Status)
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, peak, 1, "independent steps should overlap")
	assert.LessOrEqual(t, peak, 3, "worker pool bounds concurrency")
}
