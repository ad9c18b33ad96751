package registry

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Store holds the current registry snapshot behind an atomic pointer.
// Reloads build a complete replacement and swap it in (copy-on-write), so
// in-flight executions keep the consistent view they started with.
type Store struct {
	current atomic.Pointer[Snapshot]
	logger  *zap.Logger
}

// NewStore creates a store serving the given snapshot.
func NewStore(snap *Snapshot, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{logger: logger.With(zap.String("component", "registry_store"))}
	s.current.Store(snap)
	return s
}

// Snapshot returns the current snapshot. The result stays valid and
// immutable even if a reload swaps in a newer version afterwards.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload builds a replacement snapshot and atomically swaps it in. On build
// failure the current snapshot stays untouched.
func (s *Store) Reload(build func() (*Snapshot, error)) error {
	snap, err := build()
	if err != nil {
		s.logger.Error("registry reload failed, keeping current snapshot", zap.Error(err))
		return err
	}
	old := s.current.Swap(snap)
	s.logger.Info("registry snapshot swapped",
		zap.Int64("old_version", old.Version()),
		zap.Int64("new_version", snap.Version()),
		zap.Int("skills", snap.Len()),
	)
	return nil
}
