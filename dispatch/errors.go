package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolved is returned when a parked event exhausted its retries
	// without its predecessor being applied
	ErrUnresolved = errors.New("event unresolved: predecessor never applied")

	// ErrInvalidTransition is returned when an event can never apply to the
	// stored record, e.g. a cancel against a job already in progress
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPendingFull is returned when a lane's pending queue is at capacity
	ErrPendingFull = errors.New("pending queue full")

	// ErrClosed is returned by Dispatch after Close
	ErrClosed = errors.New("dispatcher closed")
)

// EnrichmentError reports a contract read that failed after its retry budget
type EnrichmentError struct {
	JobID    uint64
	Attempts int
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment of job %d failed after %d attempts: %v", e.JobID, e.Attempts, e.Err)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a store call that failed after its retry budget
type PersistenceError struct {
	JobID    uint64
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s of job %d failed after %d attempts: %v", e.Op, e.JobID, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
