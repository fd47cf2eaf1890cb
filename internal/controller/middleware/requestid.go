// Package middleware contains HTTP middleware for the scraperd API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"scraperd/internal/logger"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns every request a correlation ID. An incoming
// X-Request-Id header is kept so upstream proxies can trace calls.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		w.Header().Set(requestIDHeader, reqID)
		ctx := logger.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
