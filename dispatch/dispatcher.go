package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/job-indexer/deadletter"
	"github.com/0xmhha/job-indexer/internal/constants"
	"github.com/0xmhha/job-indexer/internal/retry"
	"github.com/0xmhha/job-indexer/job"
	"go.uber.org/zap"
)

// Store is the subset of the state store the dispatcher writes through
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	UpdateStatus(ctx context.Context, id uint64, expected []job.Status, next job.Status, upd job.Update) error
}

// Enricher reads the authoritative on-chain view of a job.
// *contract.Reader satisfies it.
type Enricher interface {
	GetJob(ctx context.Context, id uint64) (*job.Job, error)
}

// Config holds dispatcher configuration
type Config struct {
	// Workers is the number of lanes. An event goes to lane id mod Workers.
	Workers int

	// QueueSize bounds each lane's input queue
	QueueSize int

	// MaxRetries bounds store and enrichment retries per event
	MaxRetries int

	// RetryDelay is the base of the retry backoff
	RetryDelay time.Duration

	// PendingMaxRetries bounds how often a parked event is retried
	PendingMaxRetries int

	// PendingRetryDelay is the interval between parked event retries
	PendingRetryDelay time.Duration

	// MaxPending bounds the parked events of one lane
	MaxPending int

	// HoldPendingBudget keeps parked events from spending their retry budget
	// until ReleasePendingBudget is called. Retries still run meanwhile.
	HoldPendingBudget bool

	Logger  *zap.Logger
	Metrics *Metrics

	// OnResolved is called from a lane goroutine once an event is applied,
	// found duplicate, or escalated. Events abandoned at shutdown and events
	// still parked are never reported.
	OnResolved func(ev *job.Event)
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = constants.DefaultNumWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = constants.DefaultQueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = constants.DefaultRetryDelay
	}
	if c.PendingMaxRetries <= 0 {
		c.PendingMaxRetries = constants.DefaultPendingMaxRetries
	}
	if c.PendingRetryDelay <= 0 {
		c.PendingRetryDelay = constants.DefaultPendingRetryDelay
	}
	if c.MaxPending <= 0 {
		c.MaxPending = constants.DefaultMaxPending
	}
}

// Dispatcher applies events to the store through per-id serialized lanes
type Dispatcher struct {
	config   Config
	store    Store
	enricher Enricher
	escalate deadletter.Sink
	backoff  retry.Backoff
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	lanes   []*lane
	pending atomic.Int64
	charge  atomic.Bool

	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. enricher may be nil, in which case
// events are persisted with their payload fields only.
func NewDispatcher(store Store, enricher Enricher, escalate deadletter.Sink, cfg Config) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if escalate == nil {
		return nil, fmt.Errorf("escalation sink cannot be nil")
	}
	cfg.SetDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	d := &Dispatcher{
		config:   cfg,
		store:    store,
		enricher: enricher,
		escalate: escalate,
		backoff:  retry.New(cfg.RetryDelay, 30*cfg.RetryDelay),
		logger:   logger.Named("dispatch"),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
	d.charge.Store(!cfg.HoldPendingBudget)
	d.lanes = make([]*lane, cfg.Workers)
	for i := range d.lanes {
		d.lanes[i] = newLane(i, d)
	}
	return d, nil
}

// Start launches the lane goroutines
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for _, l := range d.lanes {
		d.wg.Add(1)
		go func(l *lane) {
			defer d.wg.Done()
			l.run(runCtx)
		}(l)
	}

	d.logger.Info("Dispatcher started",
		zap.Int("workers", d.config.Workers),
		zap.Int("queue_size", d.config.QueueSize),
	)
}

// Dispatch queues ev on the lane owning its job id. It blocks while that
// lane's queue is full and returns early only if ctx is done or the
// dispatcher is closed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *job.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	l := d.lanes[ev.JobID%uint64(len(d.lanes))]
	select {
	case l.in <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the lanes to drain their
// queues. When ctx expires first, in-flight work is cancelled and ctx's
// error returned. Parked events stay unresolved.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, l := range d.lanes {
		close(l.in)
	}
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Dispatcher drained", zap.Int("pending", d.Pending()))
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		d.logger.Warn("Dispatcher shutdown timed out", zap.Int("pending", d.Pending()))
		return ctx.Err()
	}
}

// ReleasePendingBudget makes parked event retries count toward
// PendingMaxRetries from the next retry on
func (d *Dispatcher) ReleasePendingBudget() {
	if !d.charge.Swap(true) {
		d.logger.Info("Parked event retry budget released", zap.Int("pending", d.Pending()))
	}
}

// Pending returns the number of parked events across all lanes
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

func (d *Dispatcher) resolved(ev *job.Event) {
	if d.config.OnResolved != nil {
		d.config.OnResolved(ev)
	}
}
