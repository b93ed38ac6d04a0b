package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/job-indexer/deadletter"
	"github.com/0xmhha/job-indexer/internal/testutil"
	"github.com/0xmhha/job-indexer/job"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSource records the registered sinks by name
type mockSource struct {
	mu    sync.Mutex
	sinks map[string]chan<- types.Log
}

func newMockSource() *mockSource {
	return &mockSource{sinks: make(map[string]chan<- types.Log)}
}

func (m *mockSource) SubscribeLogs(name string, query ethereum.FilterQuery, sink chan<- types.Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks[name] = sink
}

func (m *mockSource) push(et job.EventType, l types.Log) {
	m.mu.Lock()
	sink := m.sinks[string(et)]
	m.mu.Unlock()
	sink <- l
}

// mockDecoder maps topic0 to an event type and uses Data[0] as the job id.
// A log without topics fails to decode.
type mockDecoder struct {
	types map[common.Hash]job.EventType
}

func (d *mockDecoder) Decode(l types.Log) (*job.Event, error) {
	if len(l.Topics) == 0 {
		return nil, errors.New("no topics")
	}
	et := d.types[l.Topics[0]]
	var id uint64
	if len(l.Data) > 0 {
		id = uint64(l.Data[0])
	}
	return &job.Event{
		Type:     et,
		JobID:    id,
		Position: job.Position{BlockNumber: l.BlockNumber, LogIndex: l.Index, TxHash: l.TxHash.Hex()},
		Removed:  l.Removed,
	}, nil
}

func (d *mockDecoder) FilterQuery(ets ...job.EventType) ethereum.FilterQuery {
	return ethereum.FilterQuery{}
}

func topicFor(et job.EventType) common.Hash {
	return common.BytesToHash([]byte(et))
}

func newMockDecoder() *mockDecoder {
	d := &mockDecoder{types: make(map[common.Hash]job.EventType)}
	for _, et := range job.AllEventTypes {
		d.types[topicFor(et)] = et
	}
	return d
}

func logFor(et job.EventType, id byte, block uint64) types.Log {
	return types.Log{Topics: []common.Hash{topicFor(et)}, Data: []byte{id}, BlockNumber: block}
}

// collector records handled events
type collector struct {
	mu     sync.Mutex
	events []*job.Event
	err    error
}

func (c *collector) handle(ctx context.Context, ev *job.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) ids() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.JobID)
	}
	return out
}

func TestSubscribe(t *testing.T) {
	source := newMockSource()
	s := NewSubscriber(source, newMockDecoder(), &deadletter.Recorder{}, Config{})

	c := &collector{}
	require.NoError(t, s.Subscribe(job.EventJobPosted, c.handle))
	require.NoError(t, s.Subscribe(job.EventJobApproved, c.handle))
	assert.Error(t, s.Subscribe(job.EventJobAccepted, nil))

	// Re-subscribing replaces the handler without a second registration
	require.NoError(t, s.Subscribe(job.EventJobPosted, c.handle))

	assert.Len(t, source.sinks, 2)
	assert.Contains(t, source.sinks, string(job.EventJobPosted))
	assert.Contains(t, source.sinks, string(job.EventJobApproved))
}

func TestRunDeliversInArrivalOrder(t *testing.T) {
	source := newMockSource()
	s := NewSubscriber(source, newMockDecoder(), &deadletter.Recorder{}, Config{Buffer: 8})

	c := &collector{}
	require.NoError(t, s.Subscribe(job.EventJobAccepted, c.handle))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := byte(1); i <= 5; i++ {
		source.push(job.EventJobAccepted, logFor(job.EventJobAccepted, i, uint64(i)))
	}
	testutil.Eventually(t, time.Second, func() bool { return c.len() == 5 })
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, c.ids())

	// Subscribing while running is rejected
	assert.ErrorIs(t, s.Subscribe(job.EventJobPosted, c.handle), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
}

func TestHandlerErrorsDoNotStopConsumption(t *testing.T) {
	source := newMockSource()
	logger, logs := testutil.NewTestLogger(t)
	metrics := NewMetrics(nil)
	s := NewSubscriber(source, newMockDecoder(), &deadletter.Recorder{}, Config{Logger: logger, Metrics: metrics})

	c := &collector{err: errors.New("store unavailable")}
	require.NoError(t, s.Subscribe(job.EventJobApproved, c.handle))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	source.push(job.EventJobApproved, logFor(job.EventJobApproved, 1, 10))
	source.push(job.EventJobApproved, logFor(job.EventJobApproved, 2, 11))

	testutil.Eventually(t, time.Second, func() bool { return c.len() == 2 })
	testutil.Eventually(t, time.Second, func() bool {
		return promtestutil.ToFloat64(metrics.HandlerErrorsTotal.WithLabelValues(string(job.EventJobApproved))) == 2
	})
	assert.Equal(t, 2, logs.FilterMessage("handler failed").Len())
}

func TestDecodeFailuresAreEscalated(t *testing.T) {
	rec := &deadletter.Recorder{}
	metrics := NewMetrics(nil)
	s := NewSubscriber(newMockSource(), newMockDecoder(), rec, Config{Metrics: metrics})

	c := &collector{}
	require.NoError(t, s.Subscribe(job.EventJobPosted, c.handle))

	s.HandleLog(context.Background(), types.Log{BlockNumber: 42, Index: 7})

	require.Equal(t, 1, rec.Len())
	f := rec.Failures()[0]
	assert.Equal(t, deadletter.KindDecode, f.Kind)
	assert.Equal(t, uint64(42), f.BlockNumber)
	assert.Equal(t, uint(7), f.LogIndex)
	assert.Equal(t, 0, c.len())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.DecodeFailuresTotal))
}

func TestRemovedLogsAreSkipped(t *testing.T) {
	metrics := NewMetrics(nil)
	s := NewSubscriber(newMockSource(), newMockDecoder(), &deadletter.Recorder{}, Config{Metrics: metrics})

	c := &collector{}
	require.NoError(t, s.Subscribe(job.EventJobCancelled, c.handle))

	l := logFor(job.EventJobCancelled, 3, 9)
	l.Removed = true
	s.HandleLog(context.Background(), l)
	assert.Equal(t, 0, c.len())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.LogsRemovedTotal.WithLabelValues(string(job.EventJobCancelled))))
	assert.Equal(t, float64(0), promtestutil.ToFloat64(metrics.LogsReceivedTotal.WithLabelValues(SourceCatchUp, string(job.EventJobCancelled))))

	l.Removed = false
	s.HandleLog(context.Background(), l)
	assert.Equal(t, 1, c.len())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.LogsReceivedTotal.WithLabelValues(SourceCatchUp, string(job.EventJobCancelled))))
}

func TestHandleLogWithoutHandler(t *testing.T) {
	rec := &deadletter.Recorder{}
	s := NewSubscriber(newMockSource(), newMockDecoder(), rec, Config{})
	s.HandleLog(context.Background(), logFor(job.EventJobApproved, 1, 1))
	assert.Equal(t, 0, rec.Len())
}
