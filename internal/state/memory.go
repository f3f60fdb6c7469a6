package state

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryStore provides an in-memory implementation of Store.
// It backs dry runs and tests; nothing survives a restart.
type MemoryStore struct {
	snap  *Snapshot
	saves int
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory store, optionally seeded with st.
func NewMemoryStore(st *State) *MemoryStore {
	s := &MemoryStore{}
	if st != nil {
		snap := st.Snapshot()
		s.snap = &snap
	}
	return s
}

// Load returns a copy of the saved state or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, ErrNotFound
	}
	return FromSnapshot(*s.snap), nil
}

// Save stores a copy of st.
func (s *MemoryStore) Save(_ context.Context, st *State) error {
	snap := st.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = &snap
	s.saves++

	slog.Debug("saved state in memory",
		"replied", len(snap.Replied),
		"pending", len(snap.Pending),
		"cutoff", snap.Cutoff)
	return nil
}

// Saves returns how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close closes the store (no-op for memory store).
func (*MemoryStore) Close() error {
	return nil
}
