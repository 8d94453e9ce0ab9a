package middleware

import (
	"net/http"

	"autodelivery-api/internal/logger"
	"autodelivery-api/pkg/uid"

	"go.uber.org/zap"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// RequestID returns a middleware that assigns each request an ID and a
// request-scoped logger carrying it.
func RequestID(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uid.New()
			}

			w.Header().Set("X-Request-ID", requestID)

			ctx, _ := logger.WithRequestID(r.Context(), base, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
