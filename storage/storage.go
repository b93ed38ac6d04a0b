package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmhha/job-indexer/job"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by Create when the job id is already stored
	ErrAlreadyExists = errors.New("already exists")

	// ErrPreconditionFailed is returned by UpdateStatus when the stored status
	// is not one of the expected prior statuses
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrInvalidData is returned when data cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")
)

// PreconditionError reports the status found by a failed conditional update
type PreconditionError struct {
	ID       uint64
	Current  job.Status
	Expected []job.Status
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("job %d: status %s not in %v: %s", e.ID, e.Current, e.Expected, ErrPreconditionFailed)
}

// Is lets errors.Is(err, ErrPreconditionFailed) match
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

// Reader provides read-only access to job records
type Reader interface {
	// GetJob returns a job by id, or ErrNotFound
	GetJob(ctx context.Context, id uint64) (*job.Job, error)

	// Cursor returns the highest block whose events are all resolved, or ErrNotFound
	Cursor(ctx context.Context) (uint64, error)
}

// Writer provides write access to job records
type Writer interface {
	// Create stores a new job. Returns ErrAlreadyExists if the id is present.
	Create(ctx context.Context, j *job.Job) error

	// UpdateStatus atomically moves job id to next if its stored status is one
	// of expected, applying upd in the same write. Returns ErrNotFound when the
	// record is missing and a *PreconditionError when the status does not match.
	UpdateStatus(ctx context.Context, id uint64, expected []job.Status, next job.Status, upd job.Update) error

	// AdvanceCursor raises the cursor to block. Lower values are ignored.
	AdvanceCursor(ctx context.Context, block uint64) error
}

// Storage combines Reader and Writer interfaces
type Storage interface {
	Reader
	Writer

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage and releases resources
	Close() error
}

func containsStatus(list []job.Status, s job.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
