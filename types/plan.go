package types

import "time"

// StepStatus is the per-step state machine state.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepRunning  StepStatus = "RUNNING"
	StepRetrying StepStatus = "RETRYING"
	StepSuccess  StepStatus = "SUCCESS"
	StepFailed   StepStatus = "FAILED"
)

// Terminal reports whether the status ends the step's lifecycle.
func (s StepStatus) Terminal() bool {
	return s == StepSuccess || s == StepFailed
}

// OverallStatus is the final status of a whole execution.
type OverallStatus string

const (
	// StatusSuccess means every required step succeeded in the primary plan.
	StatusSuccess OverallStatus = "SUCCESS"
	// StatusEscalated means the primary plan failed but an escalation sub-plan
	// ultimately succeeded.
	StatusEscalated OverallStatus = "ESCALATED"
	// StatusTerminalFailure means retries and the escalation chain are exhausted.
	StatusTerminalFailure OverallStatus = "TERMINAL_FAILURE"
)

// PlanStep is one ordered entry of an ExecutionPlan.
type PlanStep struct {
	SkillName string   `json:"skill_name"`
	AgentID   string   `json:"agent_id"`
	BondType  BondType `json:"bond_type"`
	Priority  int      `json:"priority"`

	// Required marks steps whose failure fails the plan: the root skill and
	// every PRIMARY-bonded dependency.
	Required bool `json:"required"`

	// DependsOn lists plan indices that must reach SUCCESS (or, for optional
	// dependencies, any terminal state) before this step may start.
	DependsOn []int `json:"depends_on,omitempty"`
}

// ExecutionPlan is the deterministic, ordered expansion of a request.
// Built once by the resolver and never mutated.
type ExecutionPlan struct {
	TraceID   string     `json:"trace_id"`
	AgentID   string     `json:"agent_id"`
	RootSkill string     `json:"root_skill"`
	Steps     []PlanStep `json:"steps"`

	// SnapshotVersion records the registry snapshot the plan was built from.
	SnapshotVersion int64 `json:"snapshot_version"`
}

// StepIndex returns the plan index of the named skill, or -1.
func (p *ExecutionPlan) StepIndex(skillName string) int {
	for i := range p.Steps {
		if p.Steps[i].SkillName == skillName {
			return i
		}
	}
	return -1
}

// StepResult is the archived outcome of one plan step. Mutated only by the
// execution engine during the step's lifetime.
type StepResult struct {
	SkillName string     `json:"skill_name"`
	AgentID   string     `json:"agent_id"`
	BondType  BondType   `json:"bond_type"`
	Required  bool       `json:"required"`
	Status    StepStatus `json:"status"`

	// Attempts counts handler invocations; max_retries = N allows N+1.
	Attempts int `json:"attempts"`

	// AttemptLatencies holds one handler-call latency per attempt.
	AttemptLatencies []time.Duration `json:"attempt_latencies,omitempty"`

	ErrorCode ErrorCode `json:"error_code,omitempty"`
	LastError string    `json:"last_error,omitempty"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// ExecutionResult is the caller-visible outcome of a dispatch: overall status,
// every step's final state, and any nested escalation sub-result.
type ExecutionResult struct {
	TraceID   string        `json:"trace_id"`
	AgentID   string        `json:"agent_id"`
	RootSkill string        `json:"root_skill"`
	Status    OverallStatus `json:"status"`
	Steps     []StepResult  `json:"steps"`

	// Escalation nests the sub-result produced by a fallback or escalation-path
	// agent. EscalatedFrom and EscalationReason flag it for audit.
	Escalation       *ExecutionResult `json:"escalation,omitempty"`
	EscalatedFrom    string           `json:"escalated_from,omitempty"`
	EscalationReason string           `json:"escalation_reason,omitempty"`

	ErrorCode ErrorCode `json:"error_code,omitempty"`
	LastError string    `json:"last_error,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the dispatch ultimately succeeded, directly or
// through escalation.
func (r *ExecutionResult) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusEscalated
}

// Depth returns the number of nested escalation sub-results.
func (r *ExecutionResult) Depth() int {
	d := 0
	for e := r.Escalation; e != nil; e = e.Escalation {
		d++
	}
	return d
}

// Step returns the result of the named skill, or nil.
func (r *ExecutionResult) Step(skillName string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].SkillName == skillName {
			return &r.Steps[i]
		}
	}
	return nil
}
