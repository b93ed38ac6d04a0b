package deadletter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/0xmhha/job-indexer/job"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind classifies why an event was escalated
type Kind string

const (
	KindDecode            Kind = "decode"
	KindEnrichment        Kind = "enrichment"
	KindPersistence       Kind = "persistence"
	KindUnresolved        Kind = "unresolved"
	KindInvalidTransition Kind = "invalid_transition"
	KindPendingOverflow   Kind = "pending_overflow"
)

// Failure is an event that could not be resolved after its retry budget
type Failure struct {
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	EventType   job.EventType `json:"eventType,omitempty"`
	JobID       uint64        `json:"jobId"`
	BlockNumber uint64        `json:"blockNumber"`
	LogIndex    uint          `json:"logIndex"`
	TxHash      string        `json:"txHash"`
	Error       string        `json:"error"`
	Attempts    int           `json:"attempts"`
	Time        time.Time     `json:"time"`
}

// NewFailure builds a Failure for ev. ev may be nil for logs that failed to decode.
func NewFailure(kind Kind, ev *job.Event, pos job.Position, err error, attempts int) Failure {
	f := Failure{
		ID:          uuid.NewString(),
		Kind:        kind,
		BlockNumber: pos.BlockNumber,
		LogIndex:    pos.LogIndex,
		TxHash:      pos.TxHash,
		Attempts:    attempts,
		Time:        time.Now().UTC(),
	}
	if ev != nil {
		f.EventType = ev.Type
		f.JobID = ev.JobID
	}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// Sink receives escalated failures
type Sink interface {
	Escalate(ctx context.Context, f Failure) error
}

// LogSink writes failures to the error log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("deadletter")}
}

// Escalate implements Sink
func (s *LogSink) Escalate(ctx context.Context, f Failure) error {
	s.logger.Error("event escalated",
		zap.String("failure_id", f.ID),
		zap.String("kind", string(f.Kind)),
		zap.String("event_type", string(f.EventType)),
		zap.Uint64("job_id", f.JobID),
		zap.Uint64("block", f.BlockNumber),
		zap.Uint("log_index", f.LogIndex),
		zap.String("tx_hash", f.TxHash),
		zap.Int("attempts", f.Attempts),
		zap.String("error", f.Error),
	)
	return nil
}

// MultiSink fans a failure out to every sink
type MultiSink []Sink

// Escalate implements Sink. Every sink is tried; errors are joined.
func (m MultiSink) Escalate(ctx context.Context, f Failure) error {
	var errs []error
	for _, s := range m {
		if err := s.Escalate(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps failures in memory
type Recorder struct {
	mu       sync.Mutex
	failures []Failure
}

// Escalate implements Sink
func (r *Recorder) Escalate(ctx context.Context, f Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

// Failures returns a copy of the recorded failures
func (r *Recorder) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}

// Len returns the number of recorded failures
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}
