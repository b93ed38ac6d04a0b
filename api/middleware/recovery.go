package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorWriter writes the response sent after a recovered panic
type ErrorWriter func(w http.ResponseWriter, r *http.Request, recovered interface{})

func defaultErrorWriter(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"internal server error"}`))
}

// Recovery turns handler panics into a 500 response and an error log
func Recovery(logger *zap.Logger) func(next http.Handler) http.Handler {
	return RecoveryWithWriter(logger, defaultErrorWriter)
}

// RecoveryWithWriter is Recovery with a custom error response
func RecoveryWithWriter(logger *zap.Logger, write ErrorWriter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					write(w, r, rec)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
