package middleware

import (
	"net/http"
	"time"

	"autodelivery-api/internal/logger"
	"autodelivery-api/internal/metrics"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Logging returns a middleware that logs each request with its request-scoped
// logger and records it in m when m is non-nil.
func Logging(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := routePattern(r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
			}
			log := logger.FromContext(r.Context())
			if wrapped.statusCode >= http.StatusInternalServerError {
				log.Warn("request served", fields...)
			} else {
				log.Info("request served", fields...)
			}

			if m != nil {
				m.ObserveHTTP(r.Method, route, wrapped.statusCode, duration)
			}
		})
	}
}

// routePattern returns the matched chi pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}
