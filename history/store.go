package history

import (
	"context"

	"github.com/BaSui01/skillflow/types"
)

// Store archives finished executions. Implementations must tolerate the same
// trace id being archived more than once: trace ids only guard concurrent
// runs, a finished trace may legitimately run again later.
type Store interface {
	// Save archives one execution result, including its nested escalation
	// sub-results.
	Save(ctx context.Context, result *types.ExecutionResult) error

	// ByTraceID returns the most recent execution archived under the trace
	// id, escalation chain reassembled.
	ByTraceID(ctx context.Context, traceID string) (*types.ExecutionResult, error)

	// Recent returns up to limit root executions, newest first, escalation
	// chains included.
	Recent(ctx context.Context, limit int) ([]*types.ExecutionResult, error)
}
