package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xmhha/job-indexer/api"
	"github.com/0xmhha/job-indexer/client"
	"github.com/0xmhha/job-indexer/contract"
	"github.com/0xmhha/job-indexer/deadletter"
	"github.com/0xmhha/job-indexer/dispatch"
	"github.com/0xmhha/job-indexer/indexer"
	"github.com/0xmhha/job-indexer/internal/config"
	"github.com/0xmhha/job-indexer/internal/logger"
	"github.com/0xmhha/job-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

type flags struct {
	rpcEndpoint string
	contract    string
	abiPath     string
	dbBackend   string
	dbPath      string
	startBlock  uint64
	workers     int
	batchSize   uint64
	logLevel    string
	logFormat   string
	enableAPI   bool
	apiHost     string
	apiPort     int
}

func main() {
	var f flags
	configFile := flag.String("config", "", "Path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.StringVar(&f.rpcEndpoint, "rpc", "", "WebSocket RPC endpoint URL")
	flag.StringVar(&f.contract, "contract", "", "JobManager contract address")
	flag.StringVar(&f.abiPath, "abi", "", "Path to a JobManager ABI overriding the embedded one")
	flag.StringVar(&f.dbBackend, "db-backend", "", "Database backend (pebble, postgres)")
	flag.StringVar(&f.dbPath, "db", "", "Database path (pebble) or URL (postgres)")
	flag.Uint64Var(&f.startBlock, "start-block", 0, "Block to start scanning from when no cursor is stored")
	flag.IntVar(&f.workers, "workers", 0, "Number of dispatch lanes")
	flag.Uint64Var(&f.batchSize, "batch-size", 0, "Number of blocks per eth_getLogs call")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	flag.BoolVar(&f.enableAPI, "api", false, "Enable API server")
	flag.StringVar(&f.apiHost, "api-host", "", "API server host")
	flag.IntVar(&f.apiPort, "api-port", 0, "API server port")
	flag.Parse()

	if *showVersion {
		fmt.Printf("job-indexer version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configFile, func(c *config.Config) { applyFlags(c, f) })
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Indexer stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("Indexer stopped")
}

// run wires every component and blocks until ctx is cancelled. Components
// are closed in reverse order of construction.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("contract", cfg.Contract.Address),
		zap.String("db_backend", cfg.Database.Backend),
		zap.Int("workers", cfg.Indexer.Workers),
		zap.Uint64("batch_size", cfg.Indexer.BatchSize),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	binding, err := contract.NewBinding(common.HexToAddress(cfg.Contract.Address), cfg.Contract.ABIPath)
	if err != nil {
		return fmt.Errorf("failed to load contract binding: %w", err)
	}

	conn, err := client.Dial(ctx, client.Config{
		Endpoint:        cfg.RPC.Endpoint,
		Timeout:         cfg.RPC.Timeout,
		BaseDelay:       cfg.Reconnect.BaseDelay,
		MaxDelay:        cfg.Reconnect.MaxDelay,
		LivenessTimeout: cfg.Reconnect.LivenessTimeout,
		Logger:          log,
		Registerer:      registry,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}
	defer conn.Close()

	storageConfig := storage.DefaultConfig(cfg.Database.Path)
	storageConfig.Backend = storage.BackendType(cfg.Database.Backend)
	storageConfig.URL = cfg.Database.URL
	store, err := storage.Open(ctx, storageConfig, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()
	log.Info("Storage initialized", zap.String("backend", cfg.Database.Backend))

	escalate, closeSinks, err := buildSink(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	pipeline, err := indexer.New(indexer.Config{
		StartBlock:          cfg.Contract.StartBlock,
		Confirmations:       cfg.Indexer.Confirmations,
		BatchSize:           cfg.Indexer.BatchSize,
		CursorFlushInterval: cfg.Indexer.CursorFlushInterval,
		ShutdownTimeout:     cfg.Indexer.ShutdownTimeout,
		Dispatch: dispatch.Config{
			Workers:           cfg.Indexer.Workers,
			QueueSize:         cfg.Indexer.QueueSize,
			MaxRetries:        cfg.Indexer.MaxRetries,
			RetryDelay:        cfg.Indexer.RetryDelay,
			PendingMaxRetries: cfg.Indexer.PendingMaxRetries,
			PendingRetryDelay: cfg.Indexer.PendingRetryDelay,
			MaxPending:        cfg.Indexer.MaxPending,
		},
	}, indexer.Deps{
		Chain:      conn,
		Decoder:    binding,
		Enricher:   contract.NewReader(binding, conn, cfg.RPC.EnrichmentRate),
		Store:      store,
		Escalate:   escalate,
		Logger:     log,
		Registerer: registry,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.NewServer(apiServerConfig(cfg), log, store, pipeline, registry)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error("API server failed", zap.Error(err))
			}
		}()
	}

	runErr := pipeline.Run(ctx)

	log.Info("Shutting down gracefully...")
	if apiServer != nil {
		if err := apiServer.Stop(context.Background()); err != nil {
			log.Error("Failed to stop API server gracefully", zap.Error(err))
		}
	}

	stats := pipeline.Stats()
	log.Info("Final statistics",
		zap.Uint64("cursor", stats.Cursor),
		zap.Bool("has_cursor", stats.HasCursor),
		zap.Int("pending", stats.Pending),
		zap.Int("unresolved", stats.Unresolved),
	)
	return runErr
}

// buildSink returns the escalation sink selected by configuration. Failures
// are always logged; the rabbitmq type additionally publishes them.
func buildSink(cfg *config.Config, log *zap.Logger) (deadletter.Sink, func(), error) {
	logSink := deadletter.NewLogSink(log)
	if cfg.Escalation.Type != "rabbitmq" {
		return logSink, func() {}, nil
	}

	rabbit, err := deadletter.DialRabbit(cfg.Escalation.RabbitMQ.URL, cfg.Escalation.RabbitMQ.Queue, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect escalation queue: %w", err)
	}
	closeFn := func() {
		if err := rabbit.Close(); err != nil {
			log.Error("Failed to close escalation queue", zap.Error(err))
		}
	}
	return deadletter.MultiSink{logSink, rabbit}, closeFn, nil
}

// apiServerConfig maps the api section onto the HTTP server settings
func apiServerConfig(cfg *config.Config) *api.Config {
	apiConfig := api.DefaultConfig()
	apiConfig.Host = cfg.API.Host
	apiConfig.Port = cfg.API.Port
	apiConfig.AllowedOrigins = cfg.API.AllowedOrigins
	apiConfig.EnableCORS = len(cfg.API.AllowedOrigins) > 0
	apiConfig.EnableRateLimit = cfg.API.EnableRateLimit
	apiConfig.RateLimitPerSecond = cfg.API.RateLimitPerSecond
	apiConfig.RateLimitBurst = cfg.API.RateLimitBurst
	return apiConfig
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, f flags) {
	if f.rpcEndpoint != "" {
		cfg.RPC.Endpoint = f.rpcEndpoint
	}
	if f.contract != "" {
		cfg.Contract.Address = f.contract
	}
	if f.abiPath != "" {
		cfg.Contract.ABIPath = f.abiPath
	}
	if f.startBlock > 0 {
		cfg.Contract.StartBlock = f.startBlock
	}
	if f.dbBackend != "" {
		cfg.Database.Backend = f.dbBackend
	}
	if f.dbPath != "" {
		if cfg.Database.Backend == "postgres" {
			cfg.Database.URL = f.dbPath
		} else {
			cfg.Database.Path = f.dbPath
		}
	}
	if f.workers > 0 {
		cfg.Indexer.Workers = f.workers
	}
	if f.batchSize > 0 {
		cfg.Indexer.BatchSize = f.batchSize
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.enableAPI {
		cfg.API.Enabled = true
	}
	if f.apiHost != "" {
		cfg.API.Host = f.apiHost
	}
	if f.apiPort > 0 {
		cfg.API.Port = f.apiPort
	}
}
