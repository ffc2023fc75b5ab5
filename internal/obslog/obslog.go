// Package obslog builds the gateway's structured logger and HTTP
// middleware, the Go equivalent of the source's logging setup. It does not
// write per-verification-attempt log records.
package obslog

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger at the given level ("debug", "info", "warn",
// "error"), JSON-encoded for production log aggregation.
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

type requestIDKey struct{}

// Middleware assigns each request a UUID (matching the source's
// request-scoped logging), logs method/path/status/duration on
// completion, and recovers panics into a redacted 503 so a bug in one
// handler never take down the server process, per spec.md §7.
func Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()
			w.Header().Set("X-Request-Id", requestID)

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID),
						zap.Any("panic", rec),
					)
					if !rw.wroteHeader {
						http.Error(rw, `{"error":"internal_error","message":"internal error"}`, http.StatusServiceUnavailable)
					}
				}
				logger.Info("request",
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", rw.status),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}
