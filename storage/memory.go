package storage

import (
	"context"
	"sync"
	"time"

	"github.com/0xmhha/job-indexer/job"
)

// Ensure MemoryStorage implements Storage
var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps jobs in a map. It is used by tests and dry runs.
type MemoryStorage struct {
	mu        sync.RWMutex
	jobs      map[uint64]job.Job
	cursor    uint64
	hasCursor bool
	closed    bool
	now       func() time.Time
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs: make(map[uint64]job.Job),
		now:  time.Now,
	}
}

// GetJob returns a copy of the stored job
func (m *MemoryStorage) GetJob(ctx context.Context, id uint64) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

// Create stores a new job
func (m *MemoryStorage) Create(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.jobs[j.ID]; ok {
		return ErrAlreadyExists
	}
	m.jobs[j.ID] = *j
	return nil
}

// UpdateStatus performs the conditional status transition
func (m *MemoryStorage) UpdateStatus(ctx context.Context, id uint64, expected []job.Status, next job.Status, upd job.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !containsStatus(expected, j.Status) {
		return &PreconditionError{ID: id, Current: j.Status, Expected: expected}
	}
	upd.Apply(&j, next, m.now())
	m.jobs[id] = j
	return nil
}

// Cursor returns the stored cursor
func (m *MemoryStorage) Cursor(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	if !m.hasCursor {
		return 0, ErrNotFound
	}
	return m.cursor, nil
}

// AdvanceCursor raises the cursor
func (m *MemoryStorage) AdvanceCursor(ctx context.Context, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if !m.hasCursor || block > m.cursor {
		m.cursor = block
		m.hasCursor = true
	}
	return nil
}

// Ping reports whether the store is open
func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
