package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/types"
)

const cacheKeyPrefix = "skillflow:exec:"

// CachedStore fronts another Store with a Redis read-through cache keyed by
// trace id. Trace lookups dominate archive reads (clients poll a result until
// the escalation chain settles), so hot traces come from Redis while the
// inner store stays the source of truth. Recent bypasses the cache entirely:
// its result set changes on every archive.
type CachedStore struct {
	inner  Store
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps inner with a read-through cache. Entries expire after
// ttl; re-archiving a trace overwrites its cached entry so the cache never
// serves a superseded run.
func NewCachedStore(inner Store, c *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "history_cache")),
	}
}

func cacheKey(traceID string) string {
	return cacheKeyPrefix + traceID
}

// Save writes through to the inner store, then refreshes the cached entry.
// Cache failures are logged and swallowed: the archive commit already
// succeeded and a stale cache entry would expire on its own.
func (s *CachedStore) Save(ctx context.Context, result *types.ExecutionResult) error {
	if err := s.inner.Save(ctx, result); err != nil {
		return err
	}
	if result == nil || result.TraceID == "" {
		return nil
	}
	if err := s.cache.SetJSON(ctx, cacheKey(result.TraceID), result, s.ttl); err != nil {
		s.logger.Warn("execution cache write failed",
			zap.String("trace_id", result.TraceID),
			zap.Error(err),
		)
	}
	return nil
}

// ByTraceID serves the cached result when present, otherwise falls back to
// the inner store and repopulates the cache. Not-found stays uncached so a
// trace archived moments later is visible immediately.
func (s *CachedStore) ByTraceID(ctx context.Context, traceID string) (*types.ExecutionResult, error) {
	var hit types.ExecutionResult
	err := s.cache.GetJSON(ctx, cacheKey(traceID), &hit)
	if err == nil {
		return &hit, nil
	}
	if !cache.IsCacheMiss(err) {
		s.logger.Warn("execution cache read failed",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
	}

	result, err := s.inner.ByTraceID(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, cacheKey(traceID), result, s.ttl); err != nil {
		s.logger.Warn("execution cache write failed",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
	}
	return result, nil
}

// Recent always reads the inner store.
func (s *CachedStore) Recent(ctx context.Context, limit int) ([]*types.ExecutionResult, error) {
	return s.inner.Recent(ctx, limit)
}
