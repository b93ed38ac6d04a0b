package fetch

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/0xmhha/job-indexer/internal/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Client defines the RPC operations the scanner needs
type Client interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Config holds scanner configuration
type Config struct {
	// Query selects the contract address and topics. Block bounds are ignored.
	Query ethereum.FilterQuery

	// BatchSize is the number of blocks covered by each eth_getLogs call
	BatchSize uint64

	// MaxRetries is the maximum number of retry attempts per window
	MaxRetries int

	// RetryDelay is the base delay between retry attempts
	RetryDelay time.Duration
}

// Validate validates the scanner configuration
func (c *Config) Validate() error {
	if c.BatchSize == 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	return nil
}

// Scanner produces historical contract logs in emission order
type Scanner struct {
	client  Client
	config  Config
	backoff retry.Backoff
	logger  *zap.Logger
	metrics *Metrics
}

// NewScanner creates a Scanner. metrics may be nil.
func NewScanner(client Client, config Config, logger *zap.Logger, metrics *Metrics) (*Scanner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scanner config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Scanner{
		client:  client,
		config:  config,
		backoff: retry.New(config.RetryDelay, 30*config.RetryDelay),
		logger:  logger.Named("scanner"),
		metrics: metrics,
	}, nil
}

// Scan returns a lazy sequence over every matching log in [from, to].
// Nothing is fetched until Next is called. Each call to Scan starts a fresh
// pass over the range.
func (s *Scanner) Scan(from, to uint64) *Sequence {
	seq := &Sequence{scanner: s, from: from, to: to}
	seq.Reset()
	return seq
}

// fetchWindow calls eth_getLogs for [from, to] with retries and returns the
// logs sorted by block number then log index
func (s *Scanner) fetchWindow(ctx context.Context, from, to uint64) ([]types.Log, error) {
	q := s.config.Query
	q.BlockHash = nil
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)

	var logs []types.Log
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.RetriesTotal.Inc()
			s.logger.Warn("Retrying log window",
				zap.Uint64("from", from),
				zap.Uint64("to", to),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", s.config.MaxRetries),
			)
			if sleepErr := retry.Sleep(ctx, s.backoff.Delay(attempt-1)); sleepErr != nil {
				return nil, sleepErr
			}
		}

		start := time.Now()
		logs, err = s.client.FilterLogs(ctx, q)
		s.metrics.WindowDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("Failed to fetch log window",
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs for blocks %d-%d after %d attempts: %w", from, to, s.config.MaxRetries+1, err)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	s.metrics.WindowsTotal.Inc()
	s.metrics.LogsTotal.Add(float64(len(logs)))
	s.metrics.LastScannedBlock.Set(float64(to))
	s.logger.Debug("Fetched log window",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("logs", len(logs)),
	)
	return logs, nil
}

// Sequence is a lazy, finite pass over a block range
type Sequence struct {
	scanner *Scanner
	from    uint64
	to      uint64

	next      uint64 // first block of the next window
	windowEnd uint64
	buf       []types.Log
	exhausted bool
	err       error

	covered    uint64
	hasCovered bool
}

// Next returns the next log in emission order. It returns false when the
// range is exhausted, ctx is done, or a window failed after its retries;
// Err distinguishes the cases.
func (q *Sequence) Next(ctx context.Context) (types.Log, bool) {
	for len(q.buf) == 0 {
		if q.exhausted || q.err != nil {
			return types.Log{}, false
		}
		if err := ctx.Err(); err != nil {
			q.err = err
			return types.Log{}, false
		}

		end := q.next + q.scanner.config.BatchSize - 1
		if end > q.to || end < q.next {
			end = q.to
		}
		logs, err := q.scanner.fetchWindow(ctx, q.next, end)
		if err != nil {
			q.err = err
			return types.Log{}, false
		}
		q.buf = logs
		q.windowEnd = end
		if end == q.to {
			q.exhausted = true
		} else {
			q.next = end + 1
		}
		if len(q.buf) == 0 {
			q.setCovered(end)
		}
	}

	log := q.buf[0]
	q.buf = q.buf[1:]
	if len(q.buf) == 0 {
		q.setCovered(q.windowEnd)
	} else if q.buf[0].BlockNumber > q.from {
		q.setCovered(q.buf[0].BlockNumber - 1)
	}
	return log, true
}

func (q *Sequence) setCovered(block uint64) {
	if !q.hasCovered || block > q.covered {
		q.covered = block
		q.hasCovered = true
	}
}

// Covered returns the highest block whose logs have all been returned by Next
func (q *Sequence) Covered() (uint64, bool) {
	return q.covered, q.hasCovered
}

// Err returns the error that ended the sequence, if any
func (q *Sequence) Err() error {
	return q.err
}

// Reset rewinds the sequence to the start of its range
func (q *Sequence) Reset() {
	q.next = q.from
	q.windowEnd = 0
	q.buf = nil
	q.err = nil
	q.covered = 0
	q.hasCovered = false
	q.exhausted = q.from > q.to
}
