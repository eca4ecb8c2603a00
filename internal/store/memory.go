package store

import (
	"context"
	"sync"

	"tollgate/internal/hitl"
)

// MemoryStore keeps the snapshot in process memory. Used in tests and
// when no persistence backend is configured.
type MemoryStore struct {
	mu    sync.Mutex
	snap  hitl.Snapshot
	saved bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (hitl.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return hitl.Snapshot{}, hitl.ErrNoSnapshot
	}
	return m.snap, nil
}

func (m *MemoryStore) Save(ctx context.Context, snap hitl.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saved = true
	return nil
}
