package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAccessLogLevels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  zapcore.Level
	}{
		{"2xx success", http.StatusOK, zapcore.DebugLevel},
		{"4xx client error", http.StatusNotFound, zapcore.WarnLevel},
		{"5xx server error", http.StatusServiceUnavailable, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			handler := AccessLog(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/1", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "body", w.Body.String())
			entries := logs.All()
			if assert.Len(t, entries, 1) {
				assert.Equal(t, tt.level, entries[0].Level)
				assert.Equal(t, int64(tt.status), entries[0].ContextMap()["status"])
				assert.Equal(t, "/jobs/1", entries[0].ContextMap()["path"])
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	wrapped := wrapResponseWriter(httptest.NewRecorder())
	assert.Equal(t, http.StatusOK, wrapped.Status())

	wrapped.WriteHeader(http.StatusCreated)
	wrapped.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, wrapped.Status())
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
		logged  int
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			status: http.StatusOK,
		},
		{
			name:    "panic with string",
			handler: func(w http.ResponseWriter, r *http.Request) { panic("boom") },
			status:  http.StatusInternalServerError,
			logged:  1,
		},
		{
			name:    "panic with error",
			handler: func(w http.ResponseWriter, r *http.Request) { panic(http.ErrAbortHandler) },
			status:  http.StatusInternalServerError,
			logged:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			w := httptest.NewRecorder()
			Recovery(zap.New(core))(tt.handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.logged, logs.FilterMessage("panic recovered").Len())
		})
	}
}

func TestRecoveryWithWriter(t *testing.T) {
	custom := func(w http.ResponseWriter, r *http.Request, rec interface{}) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"error":"custom"}`))
	}
	handler := RecoveryWithWriter(zap.NewNop(), custom)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, `{"error":"custom"}`, w.Body.String())
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(1, 2, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"))

	// other clients have their own budget
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"))
}
