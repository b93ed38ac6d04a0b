package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/0xmhha/job-indexer/deadletter"
	"github.com/0xmhha/job-indexer/job"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by Subscribe after Run has started
var ErrAlreadyRunning = errors.New("subscriber already running")

// Source labels for metrics
const (
	SourceLive    = "live"
	SourceCatchUp = "catchup"
)

// Handler is invoked once per delivery of an event. Deliveries are
// at-least-once and not deduplicated.
type Handler func(ctx context.Context, ev *job.Event) error

// LogSource registers streaming log filters. *client.Connection satisfies it.
type LogSource interface {
	SubscribeLogs(name string, query ethereum.FilterQuery, sink chan<- types.Log)
}

// Decoder turns raw logs into events. *contract.Binding satisfies it.
type Decoder interface {
	Decode(log types.Log) (*job.Event, error)
	FilterQuery(types ...job.EventType) ethereum.FilterQuery
}

type subscription struct {
	eventType job.EventType
	handler   Handler
	logs      chan types.Log
}

// Subscriber keeps one log subscription and one inbound channel per event
// type, decodes each log and hands it to that type's handler in arrival order.
type Subscriber struct {
	source   LogSource
	decoder  Decoder
	escalate deadletter.Sink
	logger   *zap.Logger
	metrics  *Metrics
	buffer   int

	mu      sync.RWMutex
	subs    map[job.EventType]*subscription
	running bool
}

// Config holds subscriber configuration
type Config struct {
	// Buffer is the capacity of each per-type inbound channel
	Buffer  int
	Logger  *zap.Logger
	Metrics *Metrics
}

// NewSubscriber creates a Subscriber. Decode failures go to escalate.
func NewSubscriber(source LogSource, decoder Decoder, escalate deadletter.Sink, cfg Config) *Subscriber {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscriber{
		source:   source,
		decoder:  decoder,
		escalate: escalate,
		logger:   logger.Named("events"),
		metrics:  metrics,
		buffer:   buffer,
		subs:     make(map[job.EventType]*subscription),
	}
}

// Subscribe registers handler for eventType. One handler per type; a second
// call replaces the handler but keeps the existing subscription.
func (s *Subscriber) Subscribe(eventType job.EventType, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if sub, ok := s.subs[eventType]; ok {
		sub.handler = handler
		return nil
	}

	sub := &subscription{
		eventType: eventType,
		handler:   handler,
		logs:      make(chan types.Log, s.buffer),
	}
	s.subs[eventType] = sub
	s.source.SubscribeLogs(string(eventType), s.decoder.FilterQuery(eventType), sub.logs)

	s.logger.Debug("subscribed", zap.String("event_type", string(eventType)))
	return nil
}

// Run consumes every inbound channel until ctx is done. Handler errors are
// logged and never stop consumption.
func (s *Subscriber) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case log := <-sub.logs:
					s.deliver(gctx, SourceLive, log)
				}
			}
		})
	}
	return g.Wait()
}

// HandleLog decodes log and routes it to the handler of its event type.
// Catch-up scans use it so replayed logs follow the live path.
func (s *Subscriber) HandleLog(ctx context.Context, log types.Log) {
	s.deliver(ctx, SourceCatchUp, log)
}

func (s *Subscriber) deliver(ctx context.Context, source string, log types.Log) {
	pos := job.Position{BlockNumber: log.BlockNumber, LogIndex: log.Index, TxHash: log.TxHash.Hex()}

	ev, err := s.decoder.Decode(log)
	if err != nil {
		s.metrics.DecodeFailuresTotal.Inc()
		s.logger.Warn("failed to decode log",
			zap.String("position", pos.String()),
			zap.String("tx_hash", pos.TxHash),
			zap.Error(err))
		if escErr := s.escalate.Escalate(ctx, deadletter.NewFailure(deadletter.KindDecode, nil, pos, err, 1)); escErr != nil {
			s.logger.Error("failed to escalate decode failure", zap.Error(escErr))
		}
		return
	}

	if ev.Removed {
		s.metrics.LogsRemovedTotal.WithLabelValues(string(ev.Type)).Inc()
		s.logger.Info("skipping removed log",
			zap.String("event", ev.Key()),
			zap.String("tx_hash", pos.TxHash))
		return
	}
	s.metrics.LogsReceivedTotal.WithLabelValues(source, string(ev.Type)).Inc()

	s.mu.RLock()
	sub, ok := s.subs[ev.Type]
	s.mu.RUnlock()
	if !ok {
		s.logger.Debug("no handler for event", zap.String("event", ev.Key()))
		return
	}

	if err := sub.handler(ctx, ev); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.HandlerErrorsTotal.WithLabelValues(string(ev.Type)).Inc()
		s.logger.Error("handler failed",
			zap.String("event", ev.Key()),
			zap.Error(err))
	}
}
