package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/0xmhha/job-indexer/deadletter"
	"github.com/0xmhha/job-indexer/internal/logger"
	"github.com/0xmhha/job-indexer/job"
	"go.uber.org/zap"
)

// attemptState is what happened to an event after one attempt
type attemptState int

const (
	stateResolved attemptState = iota
	stateBehind
	stateAborted
)

// lane processes the events of the job ids it owns, one at a time
type lane struct {
	index   int
	d       *Dispatcher
	in      chan *job.Event
	pending *pendingQueue
	logger  *zap.Logger
}

func newLane(index int, d *Dispatcher) *lane {
	return &lane{
		index:   index,
		d:       d,
		in:      make(chan *job.Event, d.config.QueueSize),
		pending: newPendingQueue(d.config.MaxPending),
		logger:  d.logger.With(zap.Int("lane", index)),
	}
}

func (l *lane) run(ctx context.Context) {
	ticker := time.NewTicker(l.d.config.PendingRetryDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.in:
			if !ok {
				return
			}
			l.handle(ctx, ev)
		case <-ticker.C:
			l.retryPending(ctx)
		}
	}
}

func (l *lane) handle(ctx context.Context, ev *job.Event) {
	l.d.metrics.EventsReceivedTotal.WithLabelValues(string(ev.Type)).Inc()

	if ev.Removed {
		l.logger.Debug("Ignoring removed event", zap.String("event", ev.Key()))
		l.d.resolved(ev)
		return
	}

	creates := ev.Type == job.EventJobPosted
	if !creates && l.pending.has(ev.JobID) {
		// keep per-id order behind the parked predecessor
		l.park(ctx, ev)
		if head := l.pending.head(ev.JobID); head != nil && head.ev == ev {
			l.replay(ctx, ev.JobID, false)
		}
		return
	}

	switch l.attempt(ctx, ev) {
	case stateBehind:
		l.park(ctx, ev)
	case stateResolved:
		if creates && l.pending.has(ev.JobID) {
			l.replay(ctx, ev.JobID, false)
		}
	}
}

// attempt processes ev once and reports the outcome
func (l *lane) attempt(ctx context.Context, ev *job.Event) attemptState {
	start := time.Now()
	res, err := l.d.process(ctx, ev)
	l.d.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			l.logger.Debug("Abandoning event on shutdown", zap.String("event", ev.Key()))
			return stateAborted
		}
		kind, attempts := classifyFailure(err)
		l.fail(ctx, ev, kind, err, attempts)
		return stateResolved
	}

	switch res {
	case resultApplied:
		l.d.metrics.EventsTotal.WithLabelValues(string(ev.Type), outcomeApplied).Inc()
		l.logger.Info("Applied event",
			zap.String("event_type", string(ev.Type)),
			zap.Uint64("job_id", ev.JobID),
			zap.Uint64("block", ev.Position.BlockNumber),
			zap.Uint("log_index", ev.Position.LogIndex),
			zap.String("tx_hash", ev.Position.TxHash),
		)
	case resultDuplicate:
		l.d.metrics.EventsTotal.WithLabelValues(string(ev.Type), outcomeDuplicate).Inc()
		l.logger.Debug("Duplicate event", zap.String("event", ev.Key()))
	case resultBehind:
		return stateBehind
	}
	l.d.resolved(ev)
	return stateResolved
}

// park queues ev until its predecessor is applied
func (l *lane) park(ctx context.Context, ev *job.Event) {
	if l.pending.contains(ev) {
		l.d.metrics.EventsTotal.WithLabelValues(string(ev.Type), outcomeDuplicate).Inc()
		l.d.resolved(ev)
		return
	}
	if l.pending.full() {
		l.fail(ctx, ev, deadletter.KindPendingOverflow, ErrPendingFull, 0)
		return
	}

	l.pending.add(ev)
	l.d.pending.Add(1)
	l.d.metrics.PendingEvents.Inc()
	l.d.metrics.EventsTotal.WithLabelValues(string(ev.Type), outcomeParked).Inc()
	l.logger.Debug("Parked event",
		zap.String("event", ev.Key()),
		zap.Int("lane_pending", l.pending.size),
	)
}

func (l *lane) unpark(id uint64) {
	l.pending.popHead(id)
	l.d.pending.Add(-1)
	l.d.metrics.PendingEvents.Dec()
}

// replay attempts the parked events of id in order until one is still behind.
// With countAttempt the head's retry budget is charged for that miss.
func (l *lane) replay(ctx context.Context, id uint64, countAttempt bool) {
	for {
		head := l.pending.head(id)
		if head == nil {
			return
		}

		switch l.attempt(ctx, head.ev) {
		case stateAborted:
			return
		case stateResolved:
			l.unpark(id)
			continue
		}

		if !countAttempt {
			return
		}
		head.attempts++
		if head.attempts < l.d.config.PendingMaxRetries {
			return
		}
		l.unpark(id)
		l.fail(ctx, head.ev, deadletter.KindUnresolved, ErrUnresolved, head.attempts)
	}
}

func (l *lane) retryPending(ctx context.Context) {
	for _, id := range l.pending.ids() {
		if ctx.Err() != nil {
			return
		}
		l.replay(ctx, id, l.d.charge.Load())
	}
}

// fail escalates ev and marks it resolved
func (l *lane) fail(ctx context.Context, ev *job.Event, kind deadletter.Kind, err error, attempts int) {
	l.d.metrics.EventsTotal.WithLabelValues(string(ev.Type), outcomeFailed).Inc()
	l.d.metrics.EscalationsTotal.WithLabelValues(string(kind)).Inc()
	jobLogger := logger.WithJob(l.logger, ev.JobID)
	jobLogger.Error("Escalating event",
		zap.String("kind", string(kind)),
		zap.String("event_type", string(ev.Type)),
		zap.Uint64("block", ev.Position.BlockNumber),
		zap.Uint("log_index", ev.Position.LogIndex),
		zap.Error(err),
	)

	f := deadletter.NewFailure(kind, ev, ev.Position, err, attempts)
	if escErr := l.d.escalate.Escalate(context.WithoutCancel(ctx), f); escErr != nil {
		jobLogger.Error("Failed to escalate event",
			zap.String("failure_id", f.ID),
			zap.Error(escErr),
		)
	}
	l.d.resolved(ev)
}

// classifyFailure maps a final processing error to its escalation kind and
// the number of calls it took
func classifyFailure(err error) (deadletter.Kind, int) {
	var enrichErr *EnrichmentError
	var persistErr *PersistenceError
	switch {
	case errors.As(err, &enrichErr):
		return deadletter.KindEnrichment, enrichErr.Attempts
	case errors.As(err, &persistErr):
		return deadletter.KindPersistence, persistErr.Attempts
	case errors.Is(err, ErrInvalidTransition):
		return deadletter.KindInvalidTransition, 1
	default:
		return deadletter.KindPersistence, 1
	}
}
