package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultAPIShutdownTimeout bounds the HTTP server shutdown
	DefaultAPIShutdownTimeout = 10 * time.Second

	// DefaultRateLimitPerSecond is the per-IP request rate when rate limiting is on
	DefaultRateLimitPerSecond = 50

	// DefaultRateLimitBurst is the per-IP burst when rate limiting is on
	DefaultRateLimitBurst = 100
)

// Chain connection constants
const (
	// DefaultRPCTimeout bounds the handshake and each read call
	DefaultRPCTimeout = 10 * time.Second

	// DefaultReconnectBaseDelay is the first reconnect delay
	DefaultReconnectBaseDelay = 1 * time.Second

	// DefaultReconnectMaxDelay caps the reconnect delay
	DefaultReconnectMaxDelay = 60 * time.Second

	// DefaultLivenessTimeout ends a session that delivered no heads or logs
	DefaultLivenessTimeout = 2 * time.Minute

	// DefaultEnrichmentRate is the number of s_jobs reads per second
	DefaultEnrichmentRate = 20
)

// Dispatcher constants
const (
	// DefaultNumWorkers is the default number of per-id lanes
	DefaultNumWorkers = 8

	// DefaultQueueSize is the bounded input queue of each lane
	DefaultQueueSize = 256

	// DefaultMaxRetries is the default maximum number of retries for failed operations
	DefaultMaxRetries = 5

	// DefaultRetryDelay is the first delay between retries
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultPendingMaxRetries is how many times a parked event is retried
	DefaultPendingMaxRetries = 20

	// DefaultPendingRetryDelay is the interval between parked event retries
	DefaultPendingRetryDelay = 3 * time.Second

	// DefaultMaxPending bounds the parked events of one lane
	DefaultMaxPending = 1024

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second
)

// Catch-up constants
const (
	// DefaultBatchSize is the block window of one eth_getLogs call
	DefaultBatchSize = 2000

	// DefaultConfirmations is how far behind head catch-up stops
	DefaultConfirmations = 0

	// DefaultCursorFlushInterval is how often the cursor is persisted
	DefaultCursorFlushInterval = 5 * time.Second
)

// Storage constants
const (
	// DefaultDatabasePath is the pebble directory
	DefaultDatabasePath = "./data/jobs"

	// DefaultEscalationQueue is the RabbitMQ queue for failed events
	DefaultEscalationQueue = "job-indexer.deadletter"
)

// Environment fallbacks shared with the web frontend's .env
const (
	// EnvLegacyRPCURL holds the WebSocket RPC endpoint
	EnvLegacyRPCURL = "SCROLL_SEPOLIA_WSS_RPC_URL"

	// EnvLegacyContractAddress holds the JobManager address
	EnvLegacyContractAddress = "NEXT_PUBLIC_CONTRACT_ADDRESS"
)
