package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/job-indexer/job"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Ensure PebbleStorage implements Storage
var _ Storage = (*PebbleStorage)(nil)

// PebbleStorage implements Storage using PebbleDB.
//
// Pebble has no read-modify-write transactions, so conditional updates are
// serialized by writeMu. The store assumes it is the only writer of its
// directory, which pebble enforces with a lock file.
type PebbleStorage struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	writeMu sync.Mutex
	now     func() time.Time
}

// NewPebbleStorage creates a new PebbleDB storage
func NewPebbleStorage(cfg *Config, logger *zap.Logger) (*PebbleStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("invalid config: path cannot be empty")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	// Configure PebbleDB options
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(int64(cfg.Cache) << 20), // Convert MB to bytes
		MaxOpenFiles:             cfg.MaxOpenFiles,
		MemTableSize:             uint64(cfg.WriteBuffer) << 20,
		MaxConcurrentCompactions: func() int { return 1 },
		ErrorIfExists:            false,
		ErrorIfNotExists:         false,
		ReadOnly:                 cfg.ReadOnly,
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PebbleStorage{
		db:     db,
		config: cfg,
		logger: logger.Named("storage.pebble"),
		now:    time.Now,
	}, nil
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureWritable checks if storage accepts writes
func (s *PebbleStorage) ensureWritable() error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// get reads a key and copies the value out of pebble's buffer
func (s *PebbleStorage) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// Copy value since it's only valid until closer is closed
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// GetJob returns a job by id
func (s *PebbleStorage) GetJob(ctx context.Context, id uint64) (*job.Job, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	data, err := s.get(JobKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return DecodeJob(data)
}

// Create stores a new job
func (s *PebbleStorage) Create(ctx context.Context, j *job.Job) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	data, err := EncodeJob(j)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.get(JobKey(j.ID)); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to check job %d: %w", j.ID, err)
	}

	if err := s.db.Set(JobKey(j.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to store job %d: %w", j.ID, err)
	}
	return nil
}

// UpdateStatus performs the conditional status transition
func (s *PebbleStorage) UpdateStatus(ctx context.Context, id uint64, expected []job.Status, next job.Status, upd job.Update) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.get(JobKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get job %d: %w", id, err)
	}

	current, err := DecodeJob(data)
	if err != nil {
		return err
	}

	if !containsStatus(expected, current.Status) {
		return &PreconditionError{ID: id, Current: current.Status, Expected: expected}
	}

	upd.Apply(current, next, s.now())

	encoded, err := EncodeJob(current)
	if err != nil {
		return err
	}
	if err := s.db.Set(JobKey(id), encoded, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}

	s.logger.Debug("job status updated",
		zap.Uint64("job_id", id),
		zap.String("status", string(next)),
	)
	return nil
}

// Cursor returns the persisted cursor
func (s *PebbleStorage) Cursor(ctx context.Context) (uint64, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	data, err := s.get(CursorKey())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return DecodeUint64(data)
}

// AdvanceCursor raises the cursor; it never moves backwards
func (s *PebbleStorage) AdvanceCursor(ctx context.Context, block uint64) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.get(CursorKey())
	switch {
	case err == nil:
		current, err := DecodeUint64(data)
		if err != nil {
			return err
		}
		if block <= current {
			return nil
		}
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("failed to get cursor: %w", err)
	}

	if err := s.db.Set(CursorKey(), EncodeUint64(block), pebble.Sync); err != nil {
		return fmt.Errorf("failed to store cursor: %w", err)
	}
	return nil
}

// Ping verifies the database is open
func (s *PebbleStorage) Ping(ctx context.Context) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	_, err := s.get(CursorKey())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Close closes the storage and releases resources
func (s *PebbleStorage) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
