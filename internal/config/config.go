package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/job-indexer/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the indexer
type Config struct {
	RPC        RPCConfig        `yaml:"rpc"`
	Contract   ContractConfig   `yaml:"contract"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	API        APIConfig        `yaml:"api"`
	Escalation EscalationConfig `yaml:"escalation"`
}

// RPCConfig holds RPC client configuration
type RPCConfig struct {
	// Endpoint is a WebSocket JSON-RPC URL (ws:// or wss://)
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	// EnrichmentRate limits s_jobs reads per second
	EnrichmentRate float64 `yaml:"enrichment_rate"`
}

// ContractConfig identifies the JobManager deployment
type ContractConfig struct {
	Address string `yaml:"address"`
	// ABIPath overrides the embedded ABI
	ABIPath string `yaml:"abi_path"`
	// StartBlock is where scanning begins when no cursor is stored
	StartBlock uint64 `yaml:"start_block"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Backend is pebble or postgres
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	URL     string `yaml:"url"`
	// ReadOnly is rejected by Validate; the indexer must write
	ReadOnly bool `yaml:"readonly"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IndexerConfig holds pipeline configuration
type IndexerConfig struct {
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	PendingMaxRetries   int           `yaml:"pending_max_retries"`
	PendingRetryDelay   time.Duration `yaml:"pending_retry_delay"`
	MaxPending          int           `yaml:"max_pending"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	BatchSize           uint64        `yaml:"batch_size"`
	Confirmations       uint64        `yaml:"confirmations"`
	CursorFlushInterval time.Duration `yaml:"cursor_flush_interval"`
}

// ReconnectConfig holds session supervision configuration
type ReconnectConfig struct {
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// AllowedOrigins lists CORS origins; an empty list disables CORS headers
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// EscalationConfig selects where failed events are reported
type EscalationConfig struct {
	// Type is log or rabbitmq
	Type     string         `yaml:"type"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds deadletter queue configuration
type RabbitMQConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.EnrichmentRate == 0 {
		c.RPC.EnrichmentRate = constants.DefaultEnrichmentRate
	}

	// Database defaults
	if c.Database.Backend == "" {
		c.Database.Backend = "pebble"
	}
	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Indexer defaults
	if c.Indexer.Workers == 0 {
		c.Indexer.Workers = constants.DefaultNumWorkers
	}
	if c.Indexer.QueueSize == 0 {
		c.Indexer.QueueSize = constants.DefaultQueueSize
	}
	if c.Indexer.MaxRetries == 0 {
		c.Indexer.MaxRetries = constants.DefaultMaxRetries
	}
	if c.Indexer.RetryDelay == 0 {
		c.Indexer.RetryDelay = constants.DefaultRetryDelay
	}
	if c.Indexer.PendingMaxRetries == 0 {
		c.Indexer.PendingMaxRetries = constants.DefaultPendingMaxRetries
	}
	if c.Indexer.PendingRetryDelay == 0 {
		c.Indexer.PendingRetryDelay = constants.DefaultPendingRetryDelay
	}
	if c.Indexer.MaxPending == 0 {
		c.Indexer.MaxPending = constants.DefaultMaxPending
	}
	if c.Indexer.ShutdownTimeout == 0 {
		c.Indexer.ShutdownTimeout = constants.DefaultShutdownTimeout
	}
	if c.Indexer.BatchSize == 0 {
		c.Indexer.BatchSize = constants.DefaultBatchSize
	}
	if c.Indexer.CursorFlushInterval == 0 {
		c.Indexer.CursorFlushInterval = constants.DefaultCursorFlushInterval
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = constants.DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = constants.DefaultReconnectMaxDelay
	}
	if c.Reconnect.LivenessTimeout == 0 {
		c.Reconnect.LivenessTimeout = constants.DefaultLivenessTimeout
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	// Escalation defaults
	if c.Escalation.Type == "" {
		c.Escalation.Type = "log"
	}
	if c.Escalation.RabbitMQ.Queue == "" {
		c.Escalation.RabbitMQ.Queue = constants.DefaultEscalationQueue
	}
}

// LoadFromEnv loads configuration from environment variables
// Environment variables take precedence over file configuration
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := os.Getenv("INDEXER_RPC_ENDPOINT"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	} else if endpoint := os.Getenv(constants.EnvLegacyRPCURL); endpoint != "" && c.RPC.Endpoint == "" {
		c.RPC.Endpoint = endpoint
	}
	if timeout := os.Getenv("INDEXER_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}
	if rate := os.Getenv("INDEXER_ENRICHMENT_RATE"); rate != "" {
		val, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_ENRICHMENT_RATE: %w", err)
		}
		c.RPC.EnrichmentRate = val
	}

	// Contract configuration
	if address := os.Getenv("INDEXER_CONTRACT_ADDRESS"); address != "" {
		c.Contract.Address = address
	} else if address := os.Getenv(constants.EnvLegacyContractAddress); address != "" && c.Contract.Address == "" {
		c.Contract.Address = address
	}
	if path := os.Getenv("INDEXER_CONTRACT_ABI_PATH"); path != "" {
		c.Contract.ABIPath = path
	}
	if start := os.Getenv("INDEXER_START_BLOCK"); start != "" {
		val, err := strconv.ParseUint(start, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_START_BLOCK: %w", err)
		}
		c.Contract.StartBlock = val
	}

	// Database configuration
	if backend := os.Getenv("INDEXER_DB_BACKEND"); backend != "" {
		c.Database.Backend = backend
	}
	if path := os.Getenv("INDEXER_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("INDEXER_DB_URL"); url != "" {
		c.Database.URL = url
	}
	if readonly := os.Getenv("INDEXER_DB_READONLY"); readonly != "" {
		val, err := strconv.ParseBool(readonly)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_DB_READONLY: %w", err)
		}
		c.Database.ReadOnly = val
	}

	// Log configuration
	if level := os.Getenv("INDEXER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("INDEXER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Indexer configuration
	if err := envInt("INDEXER_WORKERS", &c.Indexer.Workers); err != nil {
		return err
	}
	if err := envInt("INDEXER_QUEUE_SIZE", &c.Indexer.QueueSize); err != nil {
		return err
	}
	if err := envInt("INDEXER_MAX_RETRIES", &c.Indexer.MaxRetries); err != nil {
		return err
	}
	if err := envDuration("INDEXER_RETRY_DELAY", &c.Indexer.RetryDelay); err != nil {
		return err
	}
	if err := envInt("INDEXER_PENDING_MAX_RETRIES", &c.Indexer.PendingMaxRetries); err != nil {
		return err
	}
	if err := envDuration("INDEXER_PENDING_RETRY_DELAY", &c.Indexer.PendingRetryDelay); err != nil {
		return err
	}
	if err := envInt("INDEXER_MAX_PENDING", &c.Indexer.MaxPending); err != nil {
		return err
	}
	if err := envDuration("INDEXER_SHUTDOWN_TIMEOUT", &c.Indexer.ShutdownTimeout); err != nil {
		return err
	}
	if batch := os.Getenv("INDEXER_BATCH_SIZE"); batch != "" {
		val, err := strconv.ParseUint(batch, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_BATCH_SIZE: %w", err)
		}
		c.Indexer.BatchSize = val
	}
	if confirmations := os.Getenv("INDEXER_CONFIRMATIONS"); confirmations != "" {
		val, err := strconv.ParseUint(confirmations, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_CONFIRMATIONS: %w", err)
		}
		c.Indexer.Confirmations = val
	}
	if err := envDuration("INDEXER_CURSOR_FLUSH_INTERVAL", &c.Indexer.CursorFlushInterval); err != nil {
		return err
	}

	// Reconnect configuration
	if err := envDuration("INDEXER_RECONNECT_BASE_DELAY", &c.Reconnect.BaseDelay); err != nil {
		return err
	}
	if err := envDuration("INDEXER_RECONNECT_MAX_DELAY", &c.Reconnect.MaxDelay); err != nil {
		return err
	}
	if err := envDuration("INDEXER_LIVENESS_TIMEOUT", &c.Reconnect.LivenessTimeout); err != nil {
		return err
	}

	// API configuration
	if enabled := os.Getenv("INDEXER_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("INDEXER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if err := envInt("INDEXER_API_PORT", &c.API.Port); err != nil {
		return err
	}
	if origins, ok := os.LookupEnv("INDEXER_API_ALLOWED_ORIGINS"); ok {
		c.API.AllowedOrigins = splitList(origins)
	}
	if enabled := os.Getenv("INDEXER_API_ENABLE_RATE_LIMIT"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_ENABLE_RATE_LIMIT: %w", err)
		}
		c.API.EnableRateLimit = val
	}
	if rate := os.Getenv("INDEXER_API_RATE_LIMIT_PER_SECOND"); rate != "" {
		val, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_RATE_LIMIT_PER_SECOND: %w", err)
		}
		c.API.RateLimitPerSecond = val
	}
	if err := envInt("INDEXER_API_RATE_LIMIT_BURST", &c.API.RateLimitBurst); err != nil {
		return err
	}

	// Escalation configuration
	if typ := os.Getenv("INDEXER_ESCALATION_TYPE"); typ != "" {
		c.Escalation.Type = typ
	}
	if url := os.Getenv("INDEXER_RABBITMQ_URL"); url != "" {
		c.Escalation.RabbitMQ.URL = url
	}
	if queue := os.Getenv("INDEXER_RABBITMQ_QUEUE"); queue != "" {
		c.Escalation.RabbitMQ.Queue = queue
	}

	return nil
}

// splitList parses a comma-separated list. A set but empty value yields an
// empty, non-nil list so defaults do not refill it.
func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envInt(name string, dst *int) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = val
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = val
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if !strings.HasPrefix(c.RPC.Endpoint, "ws://") && !strings.HasPrefix(c.RPC.Endpoint, "wss://") {
		return fmt.Errorf("RPC endpoint %q must be a ws:// or wss:// URL", c.RPC.Endpoint)
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPC.EnrichmentRate <= 0 {
		return fmt.Errorf("enrichment rate must be positive")
	}

	// Validate contract configuration
	if c.Contract.Address == "" {
		return fmt.Errorf("contract address is required")
	}
	if !common.IsHexAddress(c.Contract.Address) {
		return fmt.Errorf("invalid contract address %q", c.Contract.Address)
	}

	// Validate database configuration
	switch c.Database.Backend {
	case "pebble":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for postgres backend")
		}
	default:
		return fmt.Errorf("invalid database backend %q, must be one of: pebble, postgres", c.Database.Backend)
	}
	if c.Database.ReadOnly {
		return fmt.Errorf("read-only database cannot be used by the indexer")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate indexer configuration
	if c.Indexer.Workers <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.Indexer.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Indexer.MaxRetries < 0 || c.Indexer.PendingMaxRetries < 0 {
		return fmt.Errorf("retry counts cannot be negative")
	}
	if c.Indexer.MaxPending <= 0 {
		return fmt.Errorf("max pending must be positive")
	}
	if c.Indexer.BatchSize == 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Indexer.CursorFlushInterval <= 0 {
		return fmt.Errorf("cursor flush interval must be positive")
	}

	// Validate reconnect configuration
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Reconnect.LivenessTimeout <= 0 {
		return fmt.Errorf("liveness timeout must be positive")
	}

	// Validate API configuration
	if c.API.Enabled && (c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort) {
		return fmt.Errorf("invalid API port %d", c.API.Port)
	}
	if c.API.EnableRateLimit && (c.API.RateLimitPerSecond <= 0 || c.API.RateLimitBurst <= 0) {
		return fmt.Errorf("API rate limit and burst must be positive when rate limiting is enabled")
	}

	// Validate escalation configuration
	switch c.Escalation.Type {
	case "log":
	case "rabbitmq":
		if c.Escalation.RabbitMQ.URL == "" {
			return fmt.Errorf("rabbitmq url is required when escalation type is rabbitmq")
		}
	default:
		return fmt.Errorf("invalid escalation type %q, must be one of: log, rabbitmq", c.Escalation.Type)
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Apply overrides, such as command-line flags (override environment)
// 4. Set defaults for any missing values
// 5. Validate
func Load(configFile string, overrides ...func(*Config)) (*Config, error) {
	cfg := &Config{}

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	for _, override := range overrides {
		override(cfg)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
