package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/job-indexer/client"
	"github.com/0xmhha/job-indexer/deadletter"
	"github.com/0xmhha/job-indexer/dispatch"
	"github.com/0xmhha/job-indexer/events"
	"github.com/0xmhha/job-indexer/fetch"
	"github.com/0xmhha/job-indexer/job"
	"github.com/0xmhha/job-indexer/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Chain is the node connection the pipeline runs on.
// *client.Connection satisfies it.
type Chain interface {
	events.LogSource
	fetch.Client
	BlockNumber(ctx context.Context) (uint64, error)
	OnSession(fn client.SessionFunc)
	Session() uint64
	Run(ctx context.Context) error
}

// Config holds pipeline configuration
type Config struct {
	// StartBlock is where the first scan begins when no cursor is stored
	StartBlock uint64

	// Confirmations keeps catch-up scans this many blocks behind head
	Confirmations uint64

	// BatchSize is the block window of one eth_getLogs call
	BatchSize uint64

	// CursorFlushInterval is how often the cursor is persisted and the
	// chain tail is swept
	CursorFlushInterval time.Duration

	// ShutdownTimeout bounds how long lanes may drain on shutdown
	ShutdownTimeout time.Duration

	// SubscriberBuffer is the capacity of each per-type inbound channel
	SubscriberBuffer int

	// Dispatch configures the lanes. OnResolved, Logger and Metrics are
	// set by the pipeline.
	Dispatch dispatch.Config
}

// Deps are the components the pipeline is built on
type Deps struct {
	Chain    Chain
	Decoder  events.Decoder
	Enricher dispatch.Enricher
	Store    storage.Storage
	Escalate deadletter.Sink
	Logger   *zap.Logger

	// Registerer receives every pipeline metric. nil disables export.
	Registerer prometheus.Registerer
}

// Stats is a point-in-time view of pipeline progress
type Stats struct {
	Session    uint64 `json:"session"`
	Cursor     uint64 `json:"cursor"`
	HasCursor  bool   `json:"hasCursor"`
	Covered    uint64 `json:"covered"`
	Pending    int    `json:"pending"`
	Unresolved int    `json:"unresolved"`
	CaughtUp   bool   `json:"caughtUp"`
}

// Pipeline wires the subscriber, scanner and dispatcher to one chain
// connection and one store
type Pipeline struct {
	config     Config
	chain      Chain
	store      storage.Storage
	subscriber *events.Subscriber
	scanner    *fetch.Scanner
	dispatcher *dispatch.Dispatcher
	watermark  *Watermark
	logger     *zap.Logger
	metrics    *Metrics

	catchUpReq chan struct{}
	origin     uint64
	caughtUp   atomic.Bool

	mu         sync.Mutex
	flushed    uint64
	hasFlushed bool
}

// New builds a pipeline and registers its log subscriptions on the chain.
// It must be called before the chain connection runs.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Chain == nil || deps.Decoder == nil || deps.Store == nil || deps.Escalate == nil {
		return nil, fmt.Errorf("chain, decoder, store and escalation sink are required")
	}
	if cfg.CursorFlushInterval <= 0 {
		return nil, fmt.Errorf("cursor flush interval must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("shutdown timeout must be positive")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		config:     cfg,
		chain:      deps.Chain,
		store:      deps.Store,
		watermark:  NewWatermark(),
		logger:     logger.Named("pipeline"),
		metrics:    NewMetrics(deps.Registerer),
		catchUpReq: make(chan struct{}, 1),
	}

	dcfg := cfg.Dispatch
	dcfg.Logger = logger
	dcfg.Metrics = dispatch.NewMetrics(deps.Registerer)
	dcfg.OnResolved = p.resolved
	// live events that outrun the first scan wait for it without
	// spending their retry budget
	dcfg.HoldPendingBudget = true
	dispatcher, err := dispatch.NewDispatcher(deps.Store, deps.Enricher, deps.Escalate, dcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	p.dispatcher = dispatcher

	scanner, err := fetch.NewScanner(deps.Chain, fetch.Config{
		Query:      deps.Decoder.FilterQuery(),
		BatchSize:  cfg.BatchSize,
		MaxRetries: dcfg.MaxRetries,
		RetryDelay: dcfg.RetryDelay,
	}, logger, fetch.NewMetrics(deps.Registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	p.scanner = scanner

	p.subscriber = events.NewSubscriber(deps.Chain, deps.Decoder, deps.Escalate, events.Config{
		Buffer:  cfg.SubscriberBuffer,
		Logger:  logger,
		Metrics: events.NewMetrics(deps.Registerer),
	})
	for _, et := range job.AllEventTypes {
		if err := p.subscriber.Subscribe(et, p.handle); err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", et, err)
		}
	}

	deps.Chain.OnSession(func(ctx context.Context, session uint64) {
		p.logger.Info("New chain session, scheduling catch-up", zap.Uint64("session", session))
		p.requestCatchUp()
	})

	return p, nil
}

// Run indexes until ctx is cancelled, then drains the lanes and flushes the
// cursor. Each chain session triggers a catch-up scan from the cursor to
// head minus Confirmations, so gaps left by a dropped connection are filled.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.resume(ctx); err != nil {
		return err
	}

	p.dispatcher.Start(context.WithoutCancel(ctx))

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(gctx)

	// the pipeline stops as soon as any of its loops returns
	run := func(fn func(context.Context) error) {
		g.Go(func() error {
			defer cancel()
			return fn(gctx)
		})
	}
	run(p.chain.Run)
	run(p.subscriber.Run)
	run(p.catchUpLoop)
	run(p.maintainLoop)

	err := g.Wait()

	p.logger.Info("Stopping pipeline", zap.Duration("shutdown_timeout", p.config.ShutdownTimeout))
	sctx, scancel := context.WithTimeout(context.Background(), p.config.ShutdownTimeout)
	defer scancel()
	if closeErr := p.dispatcher.Close(sctx); closeErr != nil {
		p.logger.Warn("Lanes did not drain before the shutdown timeout", zap.Error(closeErr))
	}
	p.flush(context.Background())

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resume seeds the watermark from the stored cursor. The cursor block itself
// is scanned again.
func (p *Pipeline) resume(ctx context.Context) error {
	cursor, err := p.store.Cursor(ctx)
	switch {
	case err == nil:
		p.origin = cursor
		p.mu.Lock()
		p.flushed, p.hasFlushed = cursor, true
		p.mu.Unlock()
		p.metrics.CursorBlock.Set(float64(cursor))
	case errors.Is(err, storage.ErrNotFound):
		p.origin = p.config.StartBlock
	default:
		return fmt.Errorf("failed to read cursor: %w", err)
	}

	if p.origin > 0 {
		p.watermark.Cover(p.origin - 1)
	}
	p.logger.Info("Resuming", zap.Uint64("from_block", p.origin))
	return nil
}

// handle is the single entry for live and catch-up events
func (p *Pipeline) handle(ctx context.Context, ev *job.Event) error {
	p.watermark.Track(ev.Position.BlockNumber)
	if err := p.dispatcher.Dispatch(ctx, ev); err != nil {
		// left tracked so the cursor cannot pass it
		return fmt.Errorf("failed to dispatch %s: %w", ev.Key(), err)
	}
	return nil
}

func (p *Pipeline) resolved(ev *job.Event) {
	p.watermark.Resolve(ev.Position.BlockNumber)
}

func (p *Pipeline) requestCatchUp() {
	select {
	case p.catchUpReq <- struct{}{}:
	default:
	}
}

func (p *Pipeline) catchUpLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.catchUpReq:
			err := p.catchUp(ctx)
			switch {
			case err == nil:
				if !p.caughtUp.Swap(true) {
					p.logger.Info("Initial catch-up complete")
					p.dispatcher.ReleasePendingBudget()
				}
			case client.IsConnectionError(err):
				p.metrics.CatchUpErrorsTotal.Inc()
				p.logger.Info("Catch-up interrupted by disconnect, the next session resumes it", zap.Error(err))
			default:
				p.metrics.CatchUpErrorsTotal.Inc()
				p.logger.Warn("Catch-up ended early, will retry", zap.Error(err))
			}
		}
	}
}

// maintainLoop persists the cursor and sweeps the chain tail on every tick
func (p *Pipeline) maintainLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.config.CursorFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.flush(ctx)
			p.requestCatchUp()
		}
	}
}

// catchUp scans from the first uncovered block to head minus Confirmations
func (p *Pipeline) catchUp(ctx context.Context) error {
	head, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read head: %w", err)
	}
	if head < p.config.Confirmations {
		return nil
	}
	to := head - p.config.Confirmations
	from := p.nextBlock()
	if from > to {
		return nil
	}

	start := time.Now()
	p.logger.Debug("Catch-up started", zap.Uint64("from", from), zap.Uint64("to", to))

	seq := p.scanner.Scan(from, to)
	count := 0
	for {
		log, ok := seq.Next(ctx)
		if !ok {
			break
		}
		p.subscriber.HandleLog(ctx, log)
		count++
		if covered, ok := seq.Covered(); ok {
			p.watermark.Cover(covered)
		}
	}
	if covered, ok := seq.Covered(); ok {
		p.watermark.Cover(covered)
	}
	if err := seq.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("catch-up %d-%d: %w", from, to, err)
	}

	p.metrics.CatchUpsTotal.Inc()
	if count > 0 {
		p.logger.Info("Catch-up completed",
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("logs", count),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

func (p *Pipeline) nextBlock() uint64 {
	if covered, ok := p.watermark.Covered(); ok {
		return covered + 1
	}
	return p.origin
}

// flush persists the watermark when it moved forward
func (p *Pipeline) flush(ctx context.Context) {
	p.metrics.UnresolvedEvents.Set(float64(p.watermark.Unresolved()))

	value, ok := p.watermark.Value()
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasFlushed && value <= p.flushed {
		return
	}
	if err := p.store.AdvanceCursor(ctx, value); err != nil {
		p.metrics.CursorFlushErrors.Inc()
		p.logger.Error("Failed to persist cursor", zap.Uint64("block", value), zap.Error(err))
		return
	}
	p.flushed, p.hasFlushed = value, true
	p.metrics.CursorBlock.Set(float64(value))
	p.logger.Debug("Cursor advanced", zap.Uint64("block", value))
}

// Stats returns the current progress
func (p *Pipeline) Stats() Stats {
	covered, _ := p.watermark.Covered()
	p.mu.Lock()
	cursor, hasCursor := p.flushed, p.hasFlushed
	p.mu.Unlock()
	return Stats{
		Session:    p.chain.Session(),
		Cursor:     cursor,
		HasCursor:  hasCursor,
		Covered:    covered,
		Pending:    p.dispatcher.Pending(),
		Unresolved: p.watermark.Unresolved(),
		CaughtUp:   p.caughtUp.Load(),
	}
}
