package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmhha/job-indexer/internal/retry"
	"github.com/0xmhha/job-indexer/job"
	"github.com/0xmhha/job-indexer/storage"
	"go.uber.org/zap"
)

// result is how an event attempt ended
type result int

const (
	resultApplied result = iota
	resultDuplicate
	resultBehind
)

// process runs one attempt of ev against the store. A non-nil error is final
// for the event: the caller escalates it, or abandons it when ctx is done.
func (d *Dispatcher) process(ctx context.Context, ev *job.Event) (result, error) {
	tr, err := job.TransitionFor(ev.Type)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if tr.Creates() {
		return d.create(ctx, ev)
	}
	return d.update(ctx, ev, tr)
}

func (d *Dispatcher) create(ctx context.Context, ev *job.Event) (result, error) {
	j := ev.NewJob(d.now())

	if j.DataURL == "" || j.ScriptURL == "" || j.Requester == "" {
		onChain, err := d.enrich(ctx, ev.JobID)
		if err != nil {
			return 0, err
		}
		if onChain != nil {
			fillAbsent(j, onChain)
		}
	}

	attempts, err := d.retry(ctx, "create", ev.JobID, func() error {
		return d.store.Create(ctx, j)
	}, func(err error) bool {
		return errors.Is(err, storage.ErrAlreadyExists) || permanent(err)
	})

	switch {
	case err == nil:
		return resultApplied, nil
	case errors.Is(err, storage.ErrAlreadyExists):
		return resultDuplicate, nil
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		return 0, &PersistenceError{JobID: ev.JobID, Op: "create", Attempts: attempts, Err: err}
	}
}

func (d *Dispatcher) update(ctx context.Context, ev *job.Event, tr job.Transition) (result, error) {
	upd := ev.Update()

	if ev.Type == job.EventJobResultSubmitted && upd.ResultURL == "" {
		onChain, err := d.enrich(ctx, ev.JobID)
		if err != nil {
			return 0, err
		}
		if onChain != nil {
			upd.ResultURL = onChain.ResultURL
		}
	}

	attempts, err := d.retry(ctx, "update", ev.JobID, func() error {
		return d.store.UpdateStatus(ctx, ev.JobID, tr.Prior, tr.Target, upd)
	}, func(err error) bool {
		if errors.Is(err, storage.ErrNotFound) || permanent(err) {
			return true
		}
		// A precondition miss that now classifies as apply means the record
		// moved between the check and the write; try again.
		var pe *storage.PreconditionError
		return errors.As(err, &pe) && job.Classify(pe.Current, tr) != job.VerdictApply
	})

	var pe *storage.PreconditionError
	switch {
	case err == nil:
		return resultApplied, nil
	case errors.Is(err, storage.ErrNotFound):
		return resultBehind, nil
	case errors.As(err, &pe):
		switch job.Classify(pe.Current, tr) {
		case job.VerdictDuplicate:
			return resultDuplicate, nil
		case job.VerdictBehind:
			return resultBehind, nil
		case job.VerdictConflict:
			return 0, fmt.Errorf("%w: %s on job %d in status %s", ErrInvalidTransition, ev.Type, ev.JobID, pe.Current)
		}
		return 0, &PersistenceError{JobID: ev.JobID, Op: "update", Attempts: attempts, Err: err}
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		return 0, &PersistenceError{JobID: ev.JobID, Op: "update", Attempts: attempts, Err: err}
	}
}

// enrich reads the on-chain job. It returns nil, nil when no enricher is set.
func (d *Dispatcher) enrich(ctx context.Context, id uint64) (*job.Job, error) {
	if d.enricher == nil {
		d.logger.Debug("enrichment disabled, keeping payload fields", zap.Uint64("job_id", id))
		return nil, nil
	}

	var onChain *job.Job
	attempts, err := d.retry(ctx, "enrich", id, func() error {
		var err error
		onChain, err = d.enricher.GetJob(ctx, id)
		return err
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &EnrichmentError{JobID: id, Attempts: attempts, Err: err}
	}
	return onChain, nil
}

// fillAbsent copies on-chain values into fields the event payload left empty
func fillAbsent(j, onChain *job.Job) {
	if j.Requester == "" {
		j.Requester = job.NormalizeAddress(onChain.Requester)
	}
	if j.DataURL == "" {
		j.DataURL = onChain.DataURL
	}
	if j.ScriptURL == "" {
		j.ScriptURL = onChain.ScriptURL
	}
	if j.RewardUSD == "" {
		j.RewardUSD = onChain.RewardUSD
	}
	if j.RewardETH == "" {
		j.RewardETH = onChain.RewardETH
	}
}

// permanent reports store errors that no retry can clear
func permanent(err error) bool {
	return errors.Is(err, storage.ErrInvalidData) || errors.Is(err, storage.ErrReadOnly)
}

// retry calls fn until it succeeds, returns an error decisive accepts, or
// MaxRetries retries are spent. It returns the number of calls made and the
// last error.
func (d *Dispatcher) retry(ctx context.Context, op string, id uint64, fn func() error, decisive func(error) bool) (int, error) {
	var err error
	attempt := 0
	for ; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			d.metrics.RetriesTotal.WithLabelValues(op).Inc()
			d.logger.Warn("Retrying",
				zap.String("op", op),
				zap.Uint64("job_id", id),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", d.config.MaxRetries),
				zap.Error(err),
			)
			if sleepErr := retry.Sleep(ctx, d.backoff.Delay(attempt-1)); sleepErr != nil {
				return attempt, sleepErr
			}
		}

		err = fn()
		if err == nil || (decisive != nil && decisive(err)) {
			return attempt + 1, err
		}
		if ctx.Err() != nil {
			return attempt + 1, ctx.Err()
		}
	}
	return attempt, err
}
