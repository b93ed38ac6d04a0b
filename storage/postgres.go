package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/0xmhha/job-indexer/job"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Ensure PostgresStorage implements Storage
var _ Storage = (*PostgresStorage)(nil)

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS jobs (
	id           BIGINT PRIMARY KEY,
	status       TEXT NOT NULL,
	requester    TEXT NOT NULL,
	provider     TEXT NOT NULL DEFAULT '',
	data_url     TEXT NOT NULL,
	script_url   TEXT NOT NULL,
	result_url   TEXT NOT NULL DEFAULT '',
	reward_usd   NUMERIC NOT NULL,
	reward_eth   NUMERIC NOT NULL,
	tx_hash      TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS indexer_cursor (
	id    SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	block BIGINT NOT NULL
)`,
}

// PostgresStorage implements Storage on PostgreSQL. Conditional updates are
// single UPDATE statements guarded by the status predicate. Job ids are stored
// as BIGINT, so ids above math.MaxInt64 are rejected by Create.
type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStorage connects, pings and creates the schema
func NewPostgresStorage(ctx context.Context, cfg *Config, logger *zap.Logger) (*PostgresStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	return &PostgresStorage{
		pool:   pool,
		logger: logger.Named("storage.postgres"),
		now:    time.Now,
	}, nil
}

// GetJob returns a job by id
func (s *PostgresStorage) GetJob(ctx context.Context, id uint64) (*job.Job, error) {
	var (
		j      job.Job
		status string
		usd    string
		eth    string
		block  int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT status, requester, provider, data_url, script_url, result_url,
		       reward_usd::TEXT, reward_eth::TEXT, tx_hash, block_number, created_at, updated_at
		FROM jobs WHERE id = $1`, int64(id),
	).Scan(&status, &j.Requester, &j.Provider, &j.DataURL, &j.ScriptURL, &j.ResultURL,
		&usd, &eth, &j.TxHash, &block, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}

	j.ID = id
	j.BlockNumber = uint64(block)
	j.RewardUSD = usd
	j.RewardETH = eth
	if j.Status, err = job.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("job %d: %v: %w", id, err, ErrInvalidData)
	}
	return &j, nil
}

// Create inserts a new job; an existing id is left untouched
func (s *PostgresStorage) Create(ctx context.Context, j *job.Job) error {
	if j.ID > math.MaxInt64 {
		return fmt.Errorf("job id %d exceeds BIGINT: %w", j.ID, ErrInvalidData)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, requester, provider, data_url, script_url, result_url,
		                  reward_usd, reward_eth, tx_hash, block_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::TEXT::NUMERIC, $9::TEXT::NUMERIC, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		int64(j.ID), string(j.Status), j.Requester, j.Provider, j.DataURL, j.ScriptURL, j.ResultURL,
		j.RewardUSD, j.RewardETH, j.TxHash, int64(j.BlockNumber), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %d: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UpdateStatus performs the conditional status transition
func (s *PostgresStorage) UpdateStatus(ctx context.Context, id uint64, expected []job.Status, next job.Status, upd job.Update) error {
	prior := make([]string, len(expected))
	for i, st := range expected {
		prior[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status       = $3,
			provider     = COALESCE(NULLIF($4, ''), provider),
			result_url   = COALESCE(NULLIF($5, ''), result_url),
			tx_hash      = COALESCE(NULLIF($6, ''), tx_hash),
			block_number = GREATEST(block_number, $7),
			updated_at   = $8
		WHERE id = $1 AND status = ANY($2)`,
		int64(id), prior, string(next), upd.Provider, upd.ResultURL, upd.TxHash, int64(upd.BlockNumber), s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	return s.explainMiss(ctx, id, expected)
}

// explainMiss reports why a guarded update touched no row
func (s *PostgresStorage) explainMiss(ctx context.Context, id uint64, expected []job.Status) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, int64(id)).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read job %d status: %w", id, err)
	}
	current, err := job.ParseStatus(status)
	if err != nil {
		return fmt.Errorf("job %d: %v: %w", id, err, ErrInvalidData)
	}
	return &PreconditionError{ID: id, Current: current, Expected: expected}
}

// Cursor returns the persisted cursor
func (s *PostgresStorage) Cursor(ctx context.Context) (uint64, error) {
	var block int64
	err := s.pool.QueryRow(ctx, `SELECT block FROM indexer_cursor WHERE id = 1`).Scan(&block)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return uint64(block), nil
}

// AdvanceCursor raises the cursor; it never moves backwards
func (s *PostgresStorage) AdvanceCursor(ctx context.Context, block uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_cursor (id, block) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET block = GREATEST(indexer_cursor.block, EXCLUDED.block)`,
		int64(block),
	)
	if err != nil {
		return fmt.Errorf("failed to store cursor: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}
