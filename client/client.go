package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/job-indexer/internal/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Backend is the subset of the node API a session uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

// Dialer opens a new Backend for endpoint
type Dialer func(ctx context.Context, endpoint string) (Backend, error)

// DialEthereum dials a WebSocket JSON-RPC endpoint with ethclient
func DialEthereum(ctx context.Context, endpoint string) (Backend, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(rpcClient), nil
}

// Config holds client configuration
type Config struct {
	Endpoint string
	// Timeout bounds the handshake and each read call
	Timeout time.Duration

	// BaseDelay and MaxDelay shape the reconnect backoff
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// LivenessTimeout ends a session with no heads or logs
	LivenessTimeout time.Duration

	Logger     *zap.Logger
	Dialer     Dialer
	Registerer prometheus.Registerer
}

// SessionFunc is called after every successful (re)subscription
type SessionFunc func(ctx context.Context, session uint64)

type registration struct {
	name  string
	query ethereum.FilterQuery
	sink  chan<- types.Log
}

// Connection is a supervised streaming session to a chain node. Log
// subscriptions registered with SubscribeLogs are re-established on every
// new session, and OnSession listeners are told about each one so callers
// can close the gap left by the outage.
type Connection struct {
	cfg     Config
	logger  *zap.Logger
	dial    Dialer
	backoff retry.Backoff
	metrics *Metrics

	mu      sync.RWMutex
	backend Backend

	regMu     sync.Mutex
	regs      []registration
	listeners []SessionFunc

	session  atomic.Uint64
	lastSeen atomic.Int64
	closed   atomic.Bool
}

// Dial performs the initial handshake. It fails with ErrConfiguration when
// the endpoint is empty and with a *ConnectionError when the node cannot be
// reached or does not answer eth_chainId.
func Dial(ctx context.Context, cfg Config) (*Connection, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty: %w", ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 60 * cfg.BaseDelay
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 2 * time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dial := cfg.Dialer
	if dial == nil {
		dial = DialEthereum
	}

	c := &Connection{
		cfg:     cfg,
		logger:  logger.Named("client"),
		dial:    dial,
		backoff: retry.New(cfg.BaseDelay, cfg.MaxDelay),
		metrics: NewMetrics(cfg.Registerer),
	}

	backend, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.setBackend(backend)

	c.logger.Info("connected to Ethereum RPC",
		zap.String("endpoint", cfg.Endpoint))
	return c, nil
}

// connect dials and verifies the node answers eth_chainId
func (c *Connection) connect(ctx context.Context) (Backend, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	backend, err := c.dial(dctx, c.cfg.Endpoint)
	if err != nil {
		return nil, &ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("failed to dial: %w", err)}
	}

	chainID, err := backend.ChainID(dctx)
	if err != nil {
		backend.Close()
		return nil, &ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("failed to ping: %w", err)}
	}

	c.logger.Debug("handshake complete", zap.String("chain_id", chainID.String()))
	return backend, nil
}

// SubscribeLogs registers a log filter whose matches are delivered to sink
// in node emission order. Sends block, so a slow consumer slows the session.
// Registrations take effect from the next session Run establishes.
func (c *Connection) SubscribeLogs(name string, query ethereum.FilterQuery, sink chan<- types.Log) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	c.regs = append(c.regs, registration{name: name, query: query, sink: sink})
}

// OnSession registers fn to run after every successful (re)subscription
func (c *Connection) OnSession(fn SessionFunc) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Session returns the id of the current session, 0 before the first one
func (c *Connection) Session() uint64 {
	return c.session.Load()
}

// Run supervises sessions until ctx is cancelled. Any subscription error or
// a liveness timeout ends the session; the connection is then re-dialled
// with capped exponential backoff and full jitter, without an attempt limit.
func (c *Connection) Run(ctx context.Context) error {
	attempt := 0
	for {
		if c.closed.Load() {
			return nil
		}
		backend := c.currentBackend()
		if backend == nil {
			delay := c.backoff.Delay(attempt)
			c.logger.Info("reconnecting",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			if err := retry.Sleep(ctx, delay); err != nil {
				return nil
			}
			attempt++

			b, err := c.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Warn("reconnect failed", zap.Error(err))
				continue
			}
			if c.closed.Load() {
				b.Close()
				return nil
			}
			c.setBackend(b)
			backend = b
			c.metrics.ReconnectsTotal.Inc()
		}

		established, err := c.serve(ctx, backend)
		c.metrics.Connected.Set(0)
		c.dropBackend(backend)

		if ctx.Err() != nil {
			return nil
		}
		if c.closed.Load() {
			return nil
		}
		if established {
			attempt = 0
		}
		c.logger.Warn("session ended", zap.Error(err), zap.Uint64("session", c.session.Load()))
	}
}

// serve runs one session. established reports whether every subscription
// was set up before the session ended.
func (c *Connection) serve(ctx context.Context, backend Backend) (established bool, err error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.regMu.Lock()
	regs := append([]registration(nil), c.regs...)
	listeners := append([]SessionFunc(nil), c.listeners...)
	c.regMu.Unlock()

	var subs []ethereum.Subscription
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	heads := make(chan *types.Header, 16)
	headSub, err := backend.SubscribeNewHead(sctx, heads)
	if err != nil {
		return false, &ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("failed to subscribe to new heads: %w", err)}
	}
	subs = append(subs, headSub)

	errc := make(chan error, len(regs))
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for _, reg := range regs {
		logs := make(chan types.Log, 128)
		sub, err := backend.SubscribeFilterLogs(sctx, reg.query, logs)
		if err != nil {
			return false, &ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("failed to subscribe to %s logs: %w", reg.name, err)}
		}
		subs = append(subs, sub)

		wg.Add(1)
		go func(reg registration) {
			defer wg.Done()
			c.forward(sctx, reg, sub, logs, errc)
		}(reg)
	}

	session := c.session.Add(1)
	c.touch()
	c.metrics.Connected.Set(1)
	c.logger.Info("session established",
		zap.Uint64("session", session),
		zap.Int("subscriptions", len(regs)))

	for _, fn := range listeners {
		wg.Add(1)
		go func(fn SessionFunc) {
			defer wg.Done()
			fn(sctx, session)
		}(fn)
	}

	tick := c.cfg.LivenessTimeout / 4
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()

		case head := <-heads:
			c.touch()
			if head != nil && head.Number != nil {
				c.metrics.HeadBlock.Set(float64(head.Number.Uint64()))
			}

		case err := <-headSub.Err():
			if err == nil {
				err = ErrSubscriptionClosed
			}
			return true, &ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("new heads: %w", err)}

		case err := <-errc:
			return true, err

		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastSeen.Load()))
			if idle > c.cfg.LivenessTimeout {
				return true, &ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("idle for %s: %w", idle.Round(time.Second), ErrLivenessTimeout)}
			}
		}
	}
}

// forward copies one subscription into its sink until the session ends
func (c *Connection) forward(ctx context.Context, reg registration, sub ethereum.Subscription, in <-chan types.Log, errc chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return

		case err := <-sub.Err():
			if err == nil {
				err = ErrSubscriptionClosed
			}
			errc <- &ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("%s logs: %w", reg.name, err)}
			return

		case log := <-in:
			c.touch()
			select {
			case reg.sink <- log:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Connection) touch() {
	now := time.Now()
	c.lastSeen.Store(now.UnixNano())
	c.metrics.LastSeen.Set(float64(now.Unix()))
}

func (c *Connection) currentBackend() Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

func (c *Connection) setBackend(b Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = b
}

// dropBackend closes b if it is still the current backend
func (c *Connection) dropBackend(b Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == b {
		c.backend = nil
		b.Close()
	}
}

// read runs fn against the current backend with the read timeout applied.
// Transport failures come back as *ConnectionError; JSON-RPC errors returned
// by the node (such as reverts) are passed through unchanged.
func (c *Connection) read(ctx context.Context, op string, fn func(ctx context.Context, b Backend) error) error {
	backend := c.currentBackend()
	if backend == nil {
		return &ConnectionError{Endpoint: c.cfg.Endpoint, Err: ErrNotConnected}
	}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err := fn(rctx, backend)
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return &ConnectionError{Endpoint: c.cfg.Endpoint, Err: fmt.Errorf("failed to %s: %w", op, err)}
}

// BlockNumber returns the latest block number
func (c *Connection) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.read(ctx, "get latest block number", func(ctx context.Context, b Backend) error {
		var err error
		n, err = b.BlockNumber(ctx)
		return err
	})
	return n, err
}

// FilterLogs runs eth_getLogs
func (c *Connection) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.read(ctx, "filter logs", func(ctx context.Context, b Backend) error {
		var err error
		logs, err = b.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

// CallContract runs eth_call against the latest block
func (c *Connection) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.read(ctx, "call contract", func(ctx context.Context, b Backend) error {
		var err error
		out, err = b.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// Close closes the current session. A running Run returns once it notices.
func (c *Connection) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}
