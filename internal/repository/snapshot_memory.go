package repository

import (
	"context"
	"sync"
)

// MemorySnapshotRepository keeps the last saved snapshot in process memory.
// Used for tests and STORE_DRIVER=memory.
type MemorySnapshotRepository struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
}

func NewMemorySnapshotRepository(seed *Snapshot) *MemorySnapshotRepository {
	if seed == nil {
		seed = NewSnapshot()
	}
	return &MemorySnapshotRepository{snap: seed.Clone()}
}

func (r *MemorySnapshotRepository) Load(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Clone(), nil
}

func (r *MemorySnapshotRepository) Save(_ context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = snap.Clone()
	r.saves++
	return nil
}

// Saves returns how many snapshots were written.
func (r *MemorySnapshotRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func (r *MemorySnapshotRepository) Ping(_ context.Context) error { return nil }

func (r *MemorySnapshotRepository) Close() error { return nil }
