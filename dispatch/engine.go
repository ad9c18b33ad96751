package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/internal/pool"
	"github.com/BaSui01/skillflow/registry"
	"github.com/BaSui01/skillflow/types"
)

// SnapshotSource yields the registry snapshot a dispatch executes against.
// registry.Store implements it; FixedSnapshot adapts a single frozen snapshot.
type SnapshotSource interface {
	Snapshot() *registry.Snapshot
}

// FixedSnapshot wraps one snapshot as a SnapshotSource.
func FixedSnapshot(snap *registry.Snapshot) SnapshotSource {
	return fixedSource{snap: snap}
}

type fixedSource struct{ snap *registry.Snapshot }

func (s fixedSource) Snapshot() *registry.Snapshot { return s.snap }

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	// MaxWorkers bounds concurrent handler invocations.
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`
	// QueueSize bounds attempts waiting for a worker.
	QueueSize int `json:"queue_size" yaml:"queue_size"`
	// StepTimeout bounds each handler attempt; 0 disables the bound.
	StepTimeout time.Duration `json:"step_timeout" yaml:"step_timeout"`
	// Retry shapes the backoff between failed attempts.
	Retry RetryPolicy `json:"retry" yaml:"retry"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxWorkers:  16,
		QueueSize:   64,
		StepTimeout: 30 * time.Second,
		Retry:       DefaultRetryPolicy(),
	}
}

// Engine executes plans: ready steps run on a bounded worker pool, failed
// attempts back off on timers, exhausted required steps escalate along the
// owning agent's fallback chain.
type Engine struct {
	source      SnapshotSource
	handlers    *HandlerMux
	guard       TraceGuard
	recorder    Recorder
	pool        *pool.WorkerPool
	retry       RetryPolicy
	stepTimeout time.Duration
	logger      *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithTraceGuard replaces the in-process trace guard.
func WithTraceGuard(g TraceGuard) EngineOption {
	return func(e *Engine) {
		if g != nil {
			e.guard = g
		}
	}
}

// WithRecorder sets the event sink.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an execution engine.
func NewEngine(source SnapshotSource, handlers *HandlerMux, cfg EngineConfig, opts ...EngineOption) *Engine {
	def := DefaultEngineConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if handlers == nil {
		handlers = NewHandlerMux()
	}

	e := &Engine{
		source:      source,
		handlers:    handlers,
		guard:       NewMemoryTraceGuard(),
		recorder:    NopRecorder{},
		retry:       cfg.Retry,
		stepTimeout: cfg.StepTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	e.pool = pool.New(pool.Config{
		MaxWorkers: cfg.MaxWorkers,
		QueueSize:  cfg.QueueSize,
		PanicHandler: func(r any) {
			e.logger.Error("worker panicked", zap.Any("panic", r))
		},
	})
	return e
}

// Close drains the worker pool. Dispatch must not be called afterwards.
func (e *Engine) Close() {
	e.pool.Close()
}

// PoolStats reports worker pool statistics.
func (e *Engine) PoolStats() pool.Stats {
	return e.pool.Stats()
}

// Dispatch validates the request, resolves its plan and executes it,
// escalating on required failure. The returned result is the full archived
// outcome including any nested escalation sub-results. Validation and
// duplicate-trace failures return an error and no result.
func (e *Engine) Dispatch(ctx context.Context, req *types.Request) (*types.ExecutionResult, error) {
	if req == nil || req.AgentID == "" {
		return nil, types.NewError(types.ErrMissingField, "request agent id is required").
			WithHTTPStatus(400)
	}
	req.EnsureTraceID()

	snap := e.source.Snapshot()
	if snap == nil {
		return nil, types.NewError(types.ErrInternal, "no registry snapshot loaded").
			WithHTTPStatus(503)
	}

	vr, err := Validate(snap, req)
	if err != nil {
		return nil, err
	}
	plan, err := BuildPlan(snap, vr)
	if err != nil {
		return nil, err
	}

	release, err := e.guard.Acquire(ctx, req.TraceID)
	if err != nil {
		return nil, err
	}
	defer release()

	log := e.logger.With(
		zap.String("trace_id", req.TraceID),
		zap.String("agent_id", vr.Agent.ID),
		zap.String("skill", vr.Skill.Name))
	log.Info("dispatch started",
		zap.Int("steps", len(plan.Steps)),
		zap.Int64("snapshot_version", plan.SnapshotVersion))

	result := e.runPlan(ctx, snap, plan, vr.Params)
	if result.Status != types.StatusSuccess {
		if result.ErrorCode == types.ErrCancelled {
			// A cancelled run is not a failure to hand to another agent.
			result.Status = types.StatusTerminalFailure
		} else {
			e.escalate(ctx, snap, vr, result)
		}
	}
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	e.recorder.Record(ctx, planEvent(EventPlanCompleted,
		result.TraceID, result.AgentID, result.RootSkill,
		result.Duration, string(result.Status), nil))
	log.Info("dispatch completed",
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

type stepDone struct {
	idx    int
	status types.StepStatus
}

// stepRun carries one step's execution state across attempts. Only the
// goroutine currently driving the step touches sr; the scheduler reads it
// after the done send establishes ordering.
type stepRun struct {
	idx     int
	step    *types.PlanStep
	sr      *types.StepResult
	agent   *types.AgentDescriptor
	skill   *types.SkillDescriptor
	handler Handler
	params  map[string]any
	budget  int
	traceID string
	logger  *zap.Logger
	done    chan<- stepDone
}

// runPlan executes one plan hop to completion. Ready steps (all dependencies
// terminal, required ones successful) run concurrently on the pool; a failed
// required step aborts the hop, leaving never-started steps PENDING.
func (e *Engine) runPlan(ctx context.Context, snap *registry.Snapshot, plan *types.ExecutionPlan, rootParams map[string]any) *types.ExecutionResult {
	n := len(plan.Steps)
	result := &types.ExecutionResult{
		TraceID:   plan.TraceID,
		AgentID:   plan.AgentID,
		RootSkill: plan.RootSkill,
		Status:    types.StatusSuccess,
		Steps:     make([]types.StepResult, n),
		StartedAt: time.Now(),
	}
	for i := range plan.Steps {
		st := &plan.Steps[i]
		result.Steps[i] = types.StepResult{
			SkillName: st.SkillName,
			AgentID:   st.AgentID,
			BondType:  st.BondType,
			Required:  st.Required,
			Status:    types.StepPending,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	remaining := make([]int, n)
	dependents := make([][]int, n)
	for i := range plan.Steps {
		deps := plan.Steps[i].DependsOn
		remaining[i] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], i)
		}
	}

	done := make(chan stepDone, n)
	inflight := 0
	aborted := false

	launch := func(idx int) {
		inflight++
		e.startStep(runCtx, snap, plan, idx, result, rootParams, done)
	}

	for i := range plan.Steps {
		if remaining[i] == 0 {
			launch(i)
		}
	}

	for inflight > 0 {
		d := <-done
		inflight--

		if d.status == types.StepFailed && plan.Steps[d.idx].Required {
			if !aborted {
				aborted = true
				sr := &result.Steps[d.idx]
				result.Status = types.StatusTerminalFailure
				result.ErrorCode = sr.ErrorCode
				result.LastError = sr.LastError
				cancel()
			}
			continue
		}
		if aborted {
			continue
		}

		for _, depIdx := range dependents[d.idx] {
			remaining[depIdx]--
			if remaining[depIdx] == 0 && depsSatisfied(plan, result, depIdx) {
				launch(depIdx)
			}
		}
	}

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	return result
}

// depsSatisfied reports whether every required dependency of the step
// succeeded. Optional dependencies only need to be terminal, which the
// remaining-count bookkeeping already guarantees.
func depsSatisfied(plan *types.ExecutionPlan, result *types.ExecutionResult, idx int) bool {
	for _, d := range plan.Steps[idx].DependsOn {
		if plan.Steps[d].Required && result.Steps[d].Status != types.StepSuccess {
			return false
		}
	}
	return true
}

func (e *Engine) startStep(runCtx context.Context, snap *registry.Snapshot, plan *types.ExecutionPlan, idx int, result *types.ExecutionResult, rootParams map[string]any, done chan<- stepDone) {
	st := &plan.Steps[idx]
	sr := &result.Steps[idx]
	sr.Status = types.StepRunning
	sr.StartedAt = time.Now()

	run := &stepRun{
		idx:     idx,
		step:    st,
		sr:      sr,
		traceID: plan.TraceID,
		done:    done,
		logger: e.logger.With(
			zap.String("trace_id", plan.TraceID),
			zap.String("agent_id", st.AgentID),
			zap.String("skill", st.SkillName)),
	}

	agent, err := snap.Agent(st.AgentID)
	if err == nil {
		run.agent = agent
		run.budget = agent.ErrorPolicy.Budget()
		run.skill, err = snap.SkillOf(st.AgentID, st.SkillName)
	}
	if err == nil {
		run.handler, err = e.handlers.resolve(st.AgentID, st.SkillName)
	}
	if err != nil {
		sr.ErrorCode = types.GetErrorCode(err)
		sr.LastError = err.Error()
		e.recorder.Record(runCtx, stepEvent(EventStepFailed, run.traceID, st, 0, 0, "", err))
		e.finish(run, types.StepFailed)
		return
	}

	// The root step is last in post order and receives the request params;
	// bonded steps run on their own schema defaults.
	if idx == len(plan.Steps)-1 {
		run.params = rootParams
	} else {
		run.params = schemaDefaults(run.skill.Input)
	}

	e.submitAttempt(runCtx, run, 0)
}

func (e *Engine) submitAttempt(runCtx context.Context, run *stepRun, attempt int) {
	err := e.pool.Submit(runCtx, func(taskCtx context.Context) error {
		e.runAttempt(taskCtx, run, attempt)
		return nil
	})
	if err != nil {
		// The run ended (or the pool closed) while waiting for queue room.
		run.sr.ErrorCode = types.ErrCancelled
		run.sr.LastError = err.Error()
		e.recorder.Record(runCtx, stepEvent(EventStepFailed, run.traceID, run.step, attempt, 0, "", err))
		e.finish(run, types.StepFailed)
	}
}

// runAttempt executes one handler attempt on a pool worker and decides the
// step's next transition: SUCCESS, FAILED, or RETRYING parked on a timer.
func (e *Engine) runAttempt(runCtx context.Context, run *stepRun, attempt int) {
	sr := run.sr
	if runCtx.Err() != nil {
		sr.ErrorCode = types.ErrCancelled
		sr.LastError = runCtx.Err().Error()
		e.finish(run, types.StepFailed)
		return
	}

	e.recorder.Record(runCtx, stepEvent(EventStepStarted, run.traceID, run.step, attempt, 0, "", nil))

	attemptCtx := runCtx
	cancel := func() {}
	if e.stepTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(runCtx, e.stepTimeout)
	}
	start := time.Now()
	outcome, err := e.callHandler(attemptCtx, run, attempt)
	latency := time.Since(start)
	attemptErr := attemptCtx.Err()
	cancel()

	sr.Attempts = attempt + 1
	sr.AttemptLatencies = append(sr.AttemptLatencies, latency)

	if err == nil {
		detail := ""
		if outcome != nil {
			detail = outcome.Detail
		}
		e.recorder.Record(runCtx, stepEvent(EventStepSucceeded, run.traceID, run.step, attempt, latency, detail, nil))
		e.finish(run, types.StepSuccess)
		return
	}

	code, retryable := classifyAttemptError(runCtx, attemptErr, err)
	sr.ErrorCode = code
	sr.LastError = err.Error()

	if !retryable || attempt >= run.budget {
		e.recorder.Record(runCtx, stepEvent(EventStepFailed, run.traceID, run.step, attempt, latency, "", err))
		e.finish(run, types.StepFailed)
		return
	}

	delay := e.retry.Delay(attempt)
	sr.Status = types.StepRetrying
	e.recorder.Record(runCtx, stepEvent(EventStepRetried, run.traceID, run.step, attempt, latency,
		fmt.Sprintf("retrying in %s", delay), err))

	// Park the step on a timer so the worker is free for other steps.
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-runCtx.Done():
			sr.ErrorCode = types.ErrCancelled
			sr.LastError = runCtx.Err().Error()
			e.finish(run, types.StepFailed)
		case <-timer.C:
			sr.Status = types.StepRunning
			e.submitAttempt(runCtx, run, attempt+1)
		}
	}()
}

// callHandler invokes the handler, converting a panic into a failed attempt
// so the scheduler never loses the step.
func (e *Engine) callHandler(ctx context.Context, run *stepRun, attempt int) (outcome *StepOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			run.logger.Error("handler panicked", zap.Any("panic", r), zap.Int("attempt", attempt))
			err = types.NewError(types.ErrHandlerFailure, fmt.Sprintf("handler panicked: %v", r)).
				WithRetryable(true)
		}
	}()
	return run.handler.Execute(ctx, &StepContext{
		TraceID: run.traceID,
		Agent:   run.agent,
		Skill:   run.skill,
		Params:  run.params,
		Attempt: attempt,
		Logger:  run.logger,
	})
}

func (e *Engine) finish(run *stepRun, status types.StepStatus) {
	run.sr.Status = status
	run.sr.FinishedAt = time.Now()
	run.done <- stepDone{idx: run.idx, status: status}
}

// classifyAttemptError maps a handler error to an error code and
// retryability. Run-level cancellation is never retried; attempt timeouts
// are; typed errors carry their own retryability.
func classifyAttemptError(runCtx context.Context, attemptErr, err error) (types.ErrorCode, bool) {
	if runCtx.Err() != nil {
		return types.ErrCancelled, false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptErr, context.DeadlineExceeded) {
		return types.ErrTimeout, true
	}
	if te, ok := types.AsError(err); ok {
		return te.Code, te.Retryable
	}
	return types.ErrHandlerFailure, true
}

// schemaDefaults collects the declared parameter defaults of a skill.
func schemaDefaults(schema *types.InputSchema) map[string]any {
	if schema == nil {
		return nil
	}
	var out map[string]any
	for name, spec := range schema.Params {
		if spec.Default == nil {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[name] = spec.Default
	}
	return out
}

type escalationHop struct {
	targetAgent string
	via         string
}

// escalate walks the owning agent's chain: fallback_agent first, then an
// agent-valued escalation_path, re-resolving the same root skill under each
// target with a fresh retry budget. The first successful hop upgrades the
// overall status to ESCALATED; an exhausted chain or terminal sink leaves
// TERMINAL_FAILURE.
func (e *Engine) escalate(ctx context.Context, snap *registry.Snapshot, vr *ValidatedRequest, root *types.ExecutionResult) {
	reason := escalationReason(root)
	sink := vr.Agent.ErrorPolicy.EscalationPath

	var hops []escalationHop
	if vr.Agent.FallbackAgent != "" {
		hops = append(hops, escalationHop{targetAgent: vr.Agent.FallbackAgent, via: "fallback_agent"})
	}
	if sink.Kind == types.SinkAgent && sink.AgentID != "" {
		hops = append(hops, escalationHop{targetAgent: sink.AgentID, via: "escalation_path"})
	}

	current := root
	for _, hop := range hops {
		if ctx.Err() != nil {
			break
		}
		e.recorder.Record(ctx, planEvent(EventPlanEscalated,
			root.TraceID, hop.targetAgent, root.RootSkill, 0, hop.via, nil))

		sub := e.runHop(ctx, snap, hop.targetAgent, vr, root.TraceID)
		sub.EscalatedFrom = current.AgentID
		sub.EscalationReason = fmt.Sprintf("%s: %s", hop.via, reason)
		current.Escalation = sub
		current = sub

		if sub.Status == types.StatusSuccess {
			root.Status = types.StatusEscalated
			return
		}
	}

	root.Status = types.StatusTerminalFailure
	switch {
	case len(hops) > 0:
		root.ErrorCode = types.ErrFallbackExhausted
		root.LastError = fmt.Sprintf("escalation chain exhausted after %d hop(s): %s", len(hops), reason)
		if sink.Terminal() {
			root.EscalationReason = fmt.Sprintf("escalation_path: routed to %s", sink)
		}
	case sink.Terminal():
		// Deliberate routing: keep the step's own failure code.
		root.EscalationReason = fmt.Sprintf("escalation_path: routed to %s", sink)
		e.recorder.Record(ctx, planEvent(EventPlanEscalated,
			root.TraceID, root.AgentID, root.RootSkill, 0, sink.String(), nil))
	default:
		root.ErrorCode = types.ErrNoEscalationPath
		root.LastError = fmt.Sprintf("agent %q configures no fallback_agent or escalation_path: %s",
			vr.Agent.ID, reason)
	}
}

// runHop validates and executes {target agent, same root skill} as a fresh
// sub-plan. A target that cannot serve the skill yields a synthesized failed
// result so the chain can continue past it.
func (e *Engine) runHop(ctx context.Context, snap *registry.Snapshot, agentID string, orig *ValidatedRequest, traceID string) *types.ExecutionResult {
	started := time.Now()
	hopReq := &types.Request{
		AgentID:   agentID,
		SkillName: orig.Skill.Name,
		Params:    orig.Request.Params,
		TraceID:   traceID,
	}

	vr, err := Validate(snap, hopReq)
	if err == nil {
		var plan *types.ExecutionPlan
		if plan, err = BuildPlan(snap, vr); err == nil {
			return e.runPlan(ctx, snap, plan, vr.Params)
		}
	}

	now := time.Now()
	return &types.ExecutionResult{
		TraceID:    traceID,
		AgentID:    agentID,
		RootSkill:  orig.Skill.Name,
		Status:     types.StatusTerminalFailure,
		ErrorCode:  types.GetErrorCode(err),
		LastError:  err.Error(),
		StartedAt:  started,
		FinishedAt: now,
		Duration:   now.Sub(started),
	}
}

func escalationReason(r *types.ExecutionResult) string {
	for i := range r.Steps {
		sr := &r.Steps[i]
		if sr.Required && sr.Status == types.StepFailed {
			return fmt.Sprintf("required step %q failed after %d attempt(s): %s",
				sr.SkillName, sr.Attempts, sr.LastError)
		}
	}
	return "required step failed"
}
