package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/skillflow/types"
)

// GormStore persists executions through a GORM connection. One row per
// execution, escalation hops as child rows linked by parent_id, one row per
// plan step.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a history store on an open GORM connection.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "history_store")),
	}
}

// Save archives the result and its escalation chain in one transaction.
func (s *GormStore) Save(ctx context.Context, result *types.ExecutionResult) error {
	if result == nil {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveChain(tx, result, nil)
	})
	if err != nil {
		return types.NewError(types.ErrStorageFailure, "archive execution").
			WithCause(err).
			WithRetryable(true).
			WithHTTPStatus(503)
	}
	s.logger.Debug("execution archived",
		zap.String("trace_id", result.TraceID),
		zap.String("status", string(result.Status)),
		zap.Int("hops", result.Depth()),
	)
	return nil
}

func saveChain(tx *gorm.DB, r *types.ExecutionResult, parentID *uint) error {
	rec := toRecord(r, parentID)
	if err := tx.Create(rec).Error; err != nil {
		return fmt.Errorf("insert execution %s: %w", r.TraceID, err)
	}
	if r.Escalation != nil {
		return saveChain(tx, r.Escalation, &rec.ID)
	}
	return nil
}

// ByTraceID loads the most recent execution archived under the trace id.
func (s *GormStore) ByTraceID(ctx context.Context, traceID string) (*types.ExecutionResult, error) {
	var recs []ExecutionRecord
	err := s.db.WithContext(ctx).
		Preload("Steps", stepOrder).
		Where("trace_id = ?", traceID).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "load execution").
			WithCause(err).
			WithRetryable(true).
			WithHTTPStatus(503)
	}

	// The same trace may have been archived more than once; keep the newest
	// root and the children that belong to it.
	var root *ExecutionRecord
	for i := range recs {
		if recs[i].ParentID == nil {
			root = &recs[i]
		}
	}
	if root == nil {
		return nil, types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("no execution archived for trace %q", traceID)).
			WithHTTPStatus(404)
	}

	byParent := make(map[uint]*ExecutionRecord, len(recs))
	for i := range recs {
		if recs[i].ParentID != nil {
			byParent[*recs[i].ParentID] = &recs[i]
		}
	}
	return stitch(root, byParent), nil
}

// Recent loads up to limit root executions, newest first.
func (s *GormStore) Recent(ctx context.Context, limit int) ([]*types.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	var roots []ExecutionRecord
	err := s.db.WithContext(ctx).
		Preload("Steps", stepOrder).
		Where("parent_id IS NULL").
		Order("id DESC").
		Limit(limit).
		Find(&roots).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "list executions").
			WithCause(err).
			WithRetryable(true).
			WithHTTPStatus(503)
	}
	if len(roots) == 0 {
		return nil, nil
	}

	// Escalation chains are short, so fetch children one generation at a
	// time instead of joining.
	byParent := make(map[uint]*ExecutionRecord)
	parentIDs := make([]uint, 0, len(roots))
	for i := range roots {
		parentIDs = append(parentIDs, roots[i].ID)
	}
	for len(parentIDs) > 0 {
		var children []ExecutionRecord
		err := s.db.WithContext(ctx).
			Preload("Steps", stepOrder).
			Where("parent_id IN ?", parentIDs).
			Find(&children).Error
		if err != nil {
			return nil, types.NewError(types.ErrStorageFailure, "load escalation chain").
				WithCause(err).
				WithRetryable(true).
				WithHTTPStatus(503)
		}
		parentIDs = parentIDs[:0]
		for i := range children {
			child := children[i]
			byParent[*child.ParentID] = &child
			parentIDs = append(parentIDs, child.ID)
		}
	}

	results := make([]*types.ExecutionResult, 0, len(roots))
	for i := range roots {
		results = append(results, stitch(&roots[i], byParent))
	}
	return results, nil
}

func stepOrder(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// stitch rebuilds the escalation chain below rec.
func stitch(rec *ExecutionRecord, byParent map[uint]*ExecutionRecord) *types.ExecutionResult {
	r := toResult(rec)
	if child, ok := byParent[rec.ID]; ok {
		r.Escalation = stitch(child, byParent)
	}
	return r
}
