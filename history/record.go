package history

import (
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/skillflow/types"
)

// ExecutionRecord is one archived execution row: a dispatch, or one hop of
// its escalation chain linked to the parent row via ParentID.
type ExecutionRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TraceID  string `gorm:"size:64;not null;index:idx_executions_trace" json:"trace_id"`
	ParentID *uint  `gorm:"index:idx_executions_parent" json:"parent_id,omitempty"`

	AgentID   string `gorm:"size:128;not null" json:"agent_id"`
	RootSkill string `gorm:"size:128;not null" json:"root_skill"`
	Status    string `gorm:"size:32;not null;index:idx_executions_status" json:"status"`

	ErrorCode        string `gorm:"size:64" json:"error_code,omitempty"`
	LastError        string `gorm:"type:text" json:"last_error,omitempty"`
	EscalatedFrom    string `gorm:"size:128" json:"escalated_from,omitempty"`
	EscalationReason string `gorm:"type:text" json:"escalation_reason,omitempty"`

	StartedAt  time.Time `gorm:"not null" json:"started_at"`
	FinishedAt time.Time `gorm:"not null" json:"finished_at"`
	DurationMS int64     `gorm:"default:0" json:"duration_ms"`

	CreatedAt time.Time `json:"created_at"`

	Steps []StepRecord `gorm:"foreignKey:ExecutionID" json:"steps,omitempty"`
}

// TableName keeps the table name stable regardless of GORM's pluralization.
func (ExecutionRecord) TableName() string { return "executions" }

// StepRecord is one archived plan step of an execution.
type StepRecord struct {
	ID          uint `gorm:"primaryKey" json:"id"`
	ExecutionID uint `gorm:"not null;index:idx_steps_execution" json:"execution_id"`

	// Position is the step's index in the execution plan.
	Position  int    `gorm:"not null" json:"position"`
	SkillName string `gorm:"size:128;not null" json:"skill_name"`
	AgentID   string `gorm:"size:128;not null" json:"agent_id"`
	BondType  string `gorm:"size:16" json:"bond_type"`
	Required  bool   `gorm:"default:false" json:"required"`

	Status   string `gorm:"size:32;not null" json:"status"`
	Attempts int    `gorm:"default:0" json:"attempts"`

	// AttemptLatenciesMS holds one handler-call latency per attempt, in
	// milliseconds, serialized as a JSON array.
	AttemptLatenciesMS []int64 `gorm:"serializer:json;type:text" json:"attempt_latencies_ms,omitempty"`

	ErrorCode string `gorm:"size:64" json:"error_code,omitempty"`
	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// TableName keeps the table name stable regardless of GORM's pluralization.
func (StepRecord) TableName() string { return "execution_steps" }

// AutoMigrate creates or updates the history schema in place. Production
// deployments apply the versioned SQL migrations instead; this is for tests
// and embedded sqlite setups.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ExecutionRecord{}, &StepRecord{})
}

// toRecord flattens one execution result (not its escalation chain) into a
// row plus its step rows.
func toRecord(r *types.ExecutionResult, parentID *uint) *ExecutionRecord {
	rec := &ExecutionRecord{
		TraceID:          r.TraceID,
		ParentID:         parentID,
		AgentID:          r.AgentID,
		RootSkill:        r.RootSkill,
		Status:           string(r.Status),
		ErrorCode:        string(r.ErrorCode),
		LastError:        r.LastError,
		EscalatedFrom:    r.EscalatedFrom,
		EscalationReason: r.EscalationReason,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		DurationMS:       r.Duration.Milliseconds(),
	}
	rec.Steps = make([]StepRecord, 0, len(r.Steps))
	for i := range r.Steps {
		sr := &r.Steps[i]
		step := StepRecord{
			Position:   i,
			SkillName:  sr.SkillName,
			AgentID:    sr.AgentID,
			BondType:   string(sr.BondType),
			Required:   sr.Required,
			Status:     string(sr.Status),
			Attempts:   sr.Attempts,
			ErrorCode:  string(sr.ErrorCode),
			LastError:  sr.LastError,
			StartedAt:  sr.StartedAt,
			FinishedAt: sr.FinishedAt,
		}
		if len(sr.AttemptLatencies) > 0 {
			step.AttemptLatenciesMS = make([]int64, len(sr.AttemptLatencies))
			for j, d := range sr.AttemptLatencies {
				step.AttemptLatenciesMS[j] = d.Milliseconds()
			}
		}
		rec.Steps = append(rec.Steps, step)
	}
	return rec
}

// toResult rebuilds one execution result from a row; the escalation chain is
// stitched by the caller.
func toResult(rec *ExecutionRecord) *types.ExecutionResult {
	r := &types.ExecutionResult{
		TraceID:          rec.TraceID,
		AgentID:          rec.AgentID,
		RootSkill:        rec.RootSkill,
		Status:           types.OverallStatus(rec.Status),
		ErrorCode:        types.ErrorCode(rec.ErrorCode),
		LastError:        rec.LastError,
		EscalatedFrom:    rec.EscalatedFrom,
		EscalationReason: rec.EscalationReason,
		StartedAt:        rec.StartedAt,
		FinishedAt:       rec.FinishedAt,
		Duration:         time.Duration(rec.DurationMS) * time.Millisecond,
	}
	r.Steps = make([]types.StepResult, len(rec.Steps))
	for _, step := range rec.Steps {
		sr := types.StepResult{
			SkillName:  step.SkillName,
			AgentID:    step.AgentID,
			BondType:   types.BondType(step.BondType),
			Required:   step.Required,
			Status:     types.StepStatus(step.Status),
			Attempts:   step.Attempts,
			ErrorCode:  types.ErrorCode(step.ErrorCode),
			LastError:  step.LastError,
			StartedAt:  step.StartedAt,
			FinishedAt: step.FinishedAt,
		}
		if len(step.AttemptLatenciesMS) > 0 {
			sr.AttemptLatencies = make([]time.Duration, len(step.AttemptLatenciesMS))
			for j, ms := range step.AttemptLatenciesMS {
				sr.AttemptLatencies[j] = time.Duration(ms) * time.Millisecond
			}
		}
		if step.Position >= 0 && step.Position < len(r.Steps) {
			r.Steps[step.Position] = sr
		}
	}
	return r
}
