package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0xmhha/job-indexer/indexer"
	"github.com/0xmhha/job-indexer/job"
	"github.com/0xmhha/job-indexer/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStore wraps MemoryStorage with an injectable ping failure
type mockStore struct {
	*storage.MemoryStorage
	pingErr error
	getErr  error
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingErr != nil {
		return m.pingErr
	}
	return m.MemoryStorage.Ping(ctx)
}

func (m *mockStore) GetJob(ctx context.Context, id uint64) (*job.Job, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.MemoryStorage.GetJob(ctx, id)
}

type mockStats struct{ stats indexer.Stats }

func (m mockStats) Stats() indexer.Stats { return m.stats }

func newTestServer(t *testing.T, store *mockStore, stats StatsProvider) *Server {
	t.Helper()
	s, err := NewServer(DefaultConfig(), zap.NewNop(), store, stats, prometheus.NewRegistry())
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "valid default config", config: DefaultConfig()},
		{
			name: "invalid port",
			config: &Config{
				Host:            "localhost",
				Port:            0,
				ReadTimeout:     10 * time.Second,
				WriteTimeout:    10 * time.Second,
				IdleTimeout:     60 * time.Second,
				MaxHeaderBytes:  1 << 20,
				ShutdownTimeout: 30 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "rate limit without budget",
			config: func() *Config {
				c := DefaultConfig()
				c.EnableRateLimit = true
				c.RateLimitBurst = 0
				return c
			}(),
			wantErr: true,
		},
	}

	store := &mockStore{MemoryStorage: storage.NewMemoryStorage()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(tt.config, zap.NewNop(), store, nil, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, server)
		})
	}

	_, err := NewServer(DefaultConfig(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestConfigAddress(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "localhost:8080", c.Address())
}

func TestHealthEndpoint(t *testing.T) {
	store := &mockStore{MemoryStorage: storage.NewMemoryStorage()}
	s := newTestServer(t, store, mockStats{indexer.Stats{Session: 3, Cursor: 120, HasCursor: true}})

	w := do(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "connected", resp.Database)
	require.NotNil(t, resp.Indexer)
	assert.Equal(t, uint64(120), resp.Indexer.Cursor)

	store.pingErr = errors.New("connection refused")
	w = do(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "unavailable", resp.Database)
	assert.Equal(t, "connection refused", resp.Error)
}

func TestVersionEndpoint(t *testing.T) {
	s := newTestServer(t, &mockStore{MemoryStorage: storage.NewMemoryStorage()}, nil)
	w := do(s, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"1.0.0","name":"job-indexer"}`, w.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	store := &mockStore{MemoryStorage: storage.NewMemoryStorage()}

	w := do(newTestServer(t, store, nil), http.MethodGet, "/status")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(newTestServer(t, store, mockStats{indexer.Stats{Pending: 2}}), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var stats indexer.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Pending)
}

func TestGetJobEndpoint(t *testing.T) {
	store := &mockStore{MemoryStorage: storage.NewMemoryStorage()}
	require.NoError(t, store.Create(context.Background(), &job.Job{
		ID:        1,
		Status:    job.StatusInProgress,
		Requester: "0xaa",
		Provider:  "0xbb",
		DataURL:   "d1",
		ScriptURL: "s1",
		RewardUSD: "100",
	}))
	s := newTestServer(t, store, nil)

	w := do(s, http.MethodGet, "/jobs/1")
	require.Equal(t, http.StatusOK, w.Code)
	var got job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, uint64(1), got.ID)
	assert.Equal(t, job.StatusInProgress, got.Status)
	assert.Equal(t, "0xbb", got.Provider)

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/jobs/2").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/jobs/abc").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/jobs/-1").Code)

	store.getErr = errors.New("disk failure")
	assert.Equal(t, http.StatusInternalServerError, do(s, http.MethodGet, "/jobs/1").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "indexer_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s, err := NewServer(DefaultConfig(), zap.NewNop(), &mockStore{MemoryStorage: storage.NewMemoryStorage()}, nil, reg)
	require.NoError(t, err)

	w := do(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "indexer_test_total 1")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &mockStore{MemoryStorage: storage.NewMemoryStorage()}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/jobs/1", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}
