package state

import (
	"context"
	"sync"
)

// MemoryBackend keeps no durable copy; committed state lives only in the
// Store. It counts commits so tests can observe journaling.
type MemoryBackend struct {
	mu      sync.Mutex
	seed    *Snapshot
	commits int
	fail    error
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// NewMemoryBackendFrom returns a backend whose Load yields seed.
func NewMemoryBackendFrom(seed *Snapshot) *MemoryBackend {
	return &MemoryBackend{seed: seed}
}

func (m *MemoryBackend) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seed != nil {
		return m.seed, nil
	}
	return NewSnapshot(), nil
}

func (m *MemoryBackend) Commit(ctx context.Context, cs *ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.commits++
	return nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

// Commits returns the number of successful commits.
func (m *MemoryBackend) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// FailCommits makes every subsequent Commit return err (nil restores).
func (m *MemoryBackend) FailCommits(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}
