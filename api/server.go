package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apimiddleware "github.com/0xmhha/job-indexer/api/middleware"
	"github.com/0xmhha/job-indexer/indexer"
	"github.com/0xmhha/job-indexer/internal/logger"
	"github.com/0xmhha/job-indexer/job"
	"github.com/0xmhha/job-indexer/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Version is reported by /version
const Version = "1.0.0"

// JobStore is the read side of the state store served by the API
type JobStore interface {
	GetJob(ctx context.Context, id uint64) (*job.Job, error)
	Ping(ctx context.Context) error
}

// StatsProvider reports pipeline progress. *indexer.Pipeline satisfies it.
type StatsProvider interface {
	Stats() indexer.Stats
}

// Server represents the API server
type Server struct {
	config   *Config
	logger   *zap.Logger
	store    JobStore
	stats    StatsProvider
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new API server. stats may be nil; gatherer defaults to
// the global Prometheus registry.
func NewServer(config *Config, log *zap.Logger, store JobStore, stats StatsProvider, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger.WithComponent(log, "api"),
		store:    store,
		stats:    stats,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.AccessLog(s.logger))

	if s.config.EnableRateLimit {
		s.router.Use(apimiddleware.RateLimit(s.config.RateLimitPerSecond, s.config.RateLimitBurst, s.logger))
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	if s.config.EnableCORS {
		s.router.Use(s.cors)
	}
}

// cors adds CORS headers for allowed origins and answers preflight requests
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		for _, allowed := range s.config.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "300")
				break
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/jobs/{id}", s.handleGetJob)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Database  string         `json:"database"`
	Error     string         `json:"error,omitempty"`
	Indexer   *indexer.Stats `json:"indexer,omitempty"`
}

// handleHealth pings the store and reports pipeline progress
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Database:  "connected",
	}
	if s.stats != nil {
		stats := s.stats.Stats()
		response.Indexer = &stats
	}

	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		status = http.StatusServiceUnavailable
		response.Status = "error"
		response.Database = "unavailable"
		response.Error = err.Error()
	}
	s.writeJSON(w, status, response)
}

// handleVersion handles the version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"name":    logger.ServiceName,
	})
}

// handleStatus reports pipeline progress
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusNotFound, "indexer not running")
		return
	}
	s.writeJSON(w, http.StatusOK, s.stats.Stats())
}

// handleGetJob returns one job record
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "job id must be an unsigned integer")
		return
	}

	j, err := s.store.GetJob(r.Context(), id)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, j)
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("job %d not found", id))
	default:
		s.logger.Error("failed to read job", zap.Uint64("job_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read job")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("address", s.config.Address()))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
