package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line built by New
const ServiceName = "job-indexer"

// Config holds logger configuration
type Config struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string

	// Development switches to the colored console encoder with stack traces
	Development bool

	// Encoding is json or console. Default: json
	Encoding string

	// OutputPaths default to stdout, ErrorOutputPaths to stderr
	OutputPaths      []string
	ErrorOutputPaths []string

	// InitialFields are added to the root logger
	InitialFields map[string]interface{}
}

// New builds the process logger from the log section of the configuration.
// Console encoding switches to the colored development encoder.
func New(level, format string) (*zap.Logger, error) {
	return NewWithConfig(&Config{
		Level:         level,
		Encoding:      format,
		Development:   format == "console",
		InitialFields: map[string]interface{}{"service": ServiceName},
	})
}

// NewWithConfig creates a logger with the specified configuration
func NewWithConfig(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	level := zap.NewAtomicLevel()
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := cfg.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := zap.Config{
		Level:             level,
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  errOutputs,
		InitialFields:     cfg.InitialFields,
		DisableStacktrace: !cfg.Development,
	}.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return built, nil
}

// WithComponent returns a logger with a "component" field
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	return logger.With(zap.String("component", component))
}

// WithJob returns a logger scoped to one job id
func WithJob(logger *zap.Logger, id uint64) *zap.Logger {
	return logger.With(zap.Uint64("job_id", id))
}
