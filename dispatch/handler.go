package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/types"
)

// StepContext carries everything a handler needs to execute one attempt of a
// plan step. The context passed alongside it conveys cancellation and the
// per-attempt deadline.
type StepContext struct {
	TraceID string
	Agent   *types.AgentDescriptor
	Skill   *types.SkillDescriptor
	Params  map[string]any

	// Attempt numbers handler invocations from 0.
	Attempt int

	Logger *zap.Logger
}

// StepOutcome is the successful result of one handler attempt.
type StepOutcome struct {
	Output map[string]any `json:"output,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// Handler is the seam to the actual skill content. The engine invokes it
// exactly once per attempt; its return decides SUCCESS or FAILED for that
// attempt. Handlers must observe ctx cancellation promptly.
type Handler interface {
	Execute(ctx context.Context, step *StepContext) (*StepOutcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, step *StepContext) (*StepOutcome, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, step *StepContext) (*StepOutcome, error) {
	return f(ctx, step)
}
