package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/types"
)

// TraceGuard fences concurrent dispatches that share a trace id. Acquire
// returns a release func on success and DuplicateTrace when the trace is
// already executing. The check-and-insert is atomic in every backend.
type TraceGuard interface {
	Acquire(ctx context.Context, traceID string) (release func(), err error)
}

// MemoryTraceGuard tracks in-flight traces in process memory. Suitable for
// single-replica deployments and tests.
type MemoryTraceGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewMemoryTraceGuard creates an in-process trace guard.
func NewMemoryTraceGuard() *MemoryTraceGuard {
	return &MemoryTraceGuard{inflight: make(map[string]struct{})}
}

// Acquire marks the trace in flight or reports a duplicate.
func (g *MemoryTraceGuard) Acquire(_ context.Context, traceID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[traceID]; busy {
		return nil, duplicateTrace(traceID)
	}
	g.inflight[traceID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, traceID)
			g.mu.Unlock()
		})
	}, nil
}

// Len returns the number of traces currently in flight.
func (g *MemoryTraceGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// RedisTraceGuard fences traces across replicas with a SETNX lease. The TTL
// bounds the lease lifetime should a replica die without releasing.
type RedisTraceGuard struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisTraceGuard creates a Redis-backed trace guard. Empty prefix
// defaults to "skillflow:inflight:", zero ttl to 10 minutes.
func NewRedisTraceGuard(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisTraceGuard {
	if prefix == "" {
		prefix = "skillflow:inflight:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTraceGuard{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "trace_guard")),
	}
}

// Acquire takes the lease for the trace or reports a duplicate.
func (g *RedisTraceGuard) Acquire(ctx context.Context, traceID string) (func(), error) {
	key := g.prefix + traceID
	ok, err := g.redis.SetNX(ctx, key, "1", g.ttl).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "trace guard backend unavailable").
			WithCause(err).
			WithHTTPStatus(503).
			WithRetryable(true)
	}
	if !ok {
		return nil, duplicateTrace(traceID)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release outlives the request context.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := g.redis.Del(rctx, key).Err(); err != nil {
				g.logger.Warn("failed to release trace lease, ttl will reclaim it",
					zap.String("trace_id", traceID),
					zap.Error(err))
			}
		})
	}, nil
}

func duplicateTrace(traceID string) error {
	return types.NewError(types.ErrDuplicateTrace,
		fmt.Sprintf("trace %q is already executing", traceID)).
		WithHTTPStatus(409)
}
