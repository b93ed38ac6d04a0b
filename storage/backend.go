package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BackendType identifies the type of storage backend
type BackendType string

const (
	// BackendTypePebble represents PebbleDB backend
	BackendTypePebble BackendType = "pebble"

	// BackendTypePostgres represents PostgreSQL backend
	BackendTypePostgres BackendType = "postgres"

	// BackendTypeMemory represents in-memory backend (for testing)
	BackendTypeMemory BackendType = "memory"
)

// Config holds storage configuration
type Config struct {
	// Backend selects the implementation
	Backend BackendType

	// Path is the database directory (pebble)
	Path string

	// URL is the connection string (postgres)
	URL string

	// Cache size in MB
	Cache int

	// MaxOpenFiles for file-based backends
	MaxOpenFiles int

	// WriteBuffer size in MB
	WriteBuffer int

	// MaxConns caps the postgres pool size
	MaxConns int32

	// ReadOnly opens the backend in read-only mode
	ReadOnly bool
}

// DefaultConfig returns default storage configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Backend:      BackendTypePebble,
		Path:         path,
		Cache:        128,
		MaxOpenFiles: 1000,
		WriteBuffer:  64,
		MaxConns:     8,
		ReadOnly:     false,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendTypePebble, "":
		if c.Cache < 0 {
			return fmt.Errorf("cache size cannot be negative")
		}
		if c.MaxOpenFiles < 0 {
			return fmt.Errorf("max open files cannot be negative")
		}
		if c.WriteBuffer < 0 {
			return fmt.Errorf("write buffer size cannot be negative")
		}
	case BackendTypePostgres:
		if c.URL == "" {
			return fmt.Errorf("postgres url cannot be empty")
		}
		if c.MaxConns < 0 {
			return fmt.Errorf("max conns cannot be negative")
		}
	case BackendTypeMemory:
	default:
		return fmt.Errorf("unsupported backend type: %s", c.Backend)
	}
	return nil
}

// Open creates a Storage instance for the configured backend
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Backend {
	case BackendTypePebble, "":
		return NewPebbleStorage(cfg, logger)
	case BackendTypePostgres:
		return NewPostgresStorage(ctx, cfg, logger)
	case BackendTypeMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Backend)
	}
}
