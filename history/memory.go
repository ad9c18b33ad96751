package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/skillflow/types"
)

const defaultMemoryCapacity = 256

// MemoryStore keeps the most recent executions in a fixed-size ring buffer.
// It is the default store when no database is configured and is also handy
// in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	ring    []*types.ExecutionResult
	byTrace map[string]*types.ExecutionResult
	next    int
	size    int
}

// NewMemoryStore creates an in-memory store holding up to capacity root
// executions. Non-positive capacity falls back to the default of 256.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{
		ring:    make([]*types.ExecutionResult, capacity),
		byTrace: make(map[string]*types.ExecutionResult, capacity),
	}
}

// Save archives the result, evicting the oldest entry once full.
func (m *MemoryStore) Save(_ context.Context, result *types.ExecutionResult) error {
	if result == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.ring[m.next]; old != nil {
		// The old slot's trace may have been re-archived into a newer
		// slot; only drop the index entry if it still points here.
		if cur, ok := m.byTrace[old.TraceID]; ok && cur == old {
			delete(m.byTrace, old.TraceID)
		}
	} else {
		m.size++
	}
	m.ring[m.next] = result
	m.byTrace[result.TraceID] = result
	m.next = (m.next + 1) % len(m.ring)
	return nil
}

// ByTraceID returns the most recently archived execution for the trace id.
func (m *MemoryStore) ByTraceID(_ context.Context, traceID string) (*types.ExecutionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byTrace[traceID]
	if !ok {
		return nil, types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("no execution archived for trace %q", traceID)).
			WithHTTPStatus(404)
	}
	return r, nil
}

// Recent returns up to limit executions, newest first.
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]*types.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.size
	if limit < n {
		n = limit
	}
	out := make([]*types.ExecutionResult, 0, n)
	// Walk backwards from the slot written last.
	for i := 1; len(out) < n; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		if m.ring[idx] == nil {
			break
		}
		out = append(out, m.ring[idx])
	}
	return out, nil
}

// Len reports how many executions are currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
