package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xmhha/job-indexer/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(id uint64) *job.Job {
	now := time.Unix(1700000000, 0).UTC()
	return &job.Job{
		ID:          id,
		Status:      job.StatusOpen,
		Requester:   "0xaa",
		DataURL:     "d1",
		ScriptURL:   "s1",
		RewardUSD:   "100",
		RewardETH:   "5",
		TxHash:      "0x01",
		BlockNumber: 10,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// runConformance exercises the Storage contract against one backend
func runConformance(t *testing.T, open func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newTestJob(1)))

		got, err := s.GetJob(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, job.StatusOpen, got.Status)
		assert.Equal(t, "0xaa", got.Requester)
		assert.Equal(t, "100", got.RewardUSD)
		assert.Equal(t, uint64(10), got.BlockNumber)
	})

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.GetJob(ctx, 99)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate create", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newTestJob(1)))

		second := newTestJob(1)
		second.DataURL = "other"
		assert.ErrorIs(t, s.Create(ctx, second), ErrAlreadyExists)

		got, err := s.GetJob(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "d1", got.DataURL)
	})

	t.Run("conditional update applies", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newTestJob(1)))

		err := s.UpdateStatus(ctx, 1, []job.Status{job.StatusOpen}, job.StatusInProgress,
			job.Update{Provider: "0xbb", TxHash: "0x02", BlockNumber: 11})
		require.NoError(t, err)

		got, err := s.GetJob(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, job.StatusInProgress, got.Status)
		assert.Equal(t, "0xbb", got.Provider)
		assert.Equal(t, "0x02", got.TxHash)
		assert.Equal(t, uint64(11), got.BlockNumber)
		assert.Equal(t, "d1", got.DataURL)
	})

	t.Run("conditional update missing record", func(t *testing.T) {
		s := open(t)
		err := s.UpdateStatus(ctx, 7, []job.Status{job.StatusOpen}, job.StatusInProgress, job.Update{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("conditional update precondition", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newTestJob(1)))

		err := s.UpdateStatus(ctx, 1, []job.Status{job.StatusPendingApproval}, job.StatusCompleted,
			job.Update{TxHash: "0x09"})
		require.ErrorIs(t, err, ErrPreconditionFailed)

		var pe *PreconditionError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, job.StatusOpen, pe.Current)

		got, err := s.GetJob(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, job.StatusOpen, got.Status)
		assert.Equal(t, "0x01", got.TxHash)
	})

	t.Run("concurrent updates apply once", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newTestJob(1)))

		var applied atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.UpdateStatus(ctx, 1, []job.Status{job.StatusOpen}, job.StatusInProgress, job.Update{})
				if err == nil {
					applied.Add(1)
				} else {
					assert.ErrorIs(t, err, ErrPreconditionFailed)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), applied.Load())
	})

	t.Run("cursor is monotonic", func(t *testing.T) {
		s := open(t)
		_, err := s.Cursor(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.AdvanceCursor(ctx, 100))
		require.NoError(t, s.AdvanceCursor(ctx, 50))

		got, err := s.Cursor(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), got)

		require.NoError(t, s.AdvanceCursor(ctx, 150))
		got, err = s.Cursor(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(150), got)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryStorageConformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Storage {
		s := NewMemoryStorage()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStorageClosed(t *testing.T) {
	s := NewMemoryStorage()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.Create(context.Background(), newTestJob(1)), ErrClosed)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, &Config{Backend: BackendTypeMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	s, err = Open(ctx, DefaultConfig(t.TempDir()), nil)
	require.NoError(t, err)
	assert.IsType(t, &PebbleStorage{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, &Config{Backend: "rocksdb"}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, &Config{Backend: BackendTypePostgres}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, nil, nil)
	assert.Error(t, err)
}
