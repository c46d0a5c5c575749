package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is the context key type for server values.
type contextKey string

const RequestIDKey contextKey = "request_id"

// RequestIDMiddleware ensures every request carries a request ID: the
// inbound X-Request-ID header is honored when present, otherwise one is
// generated. The ID is written back to the request headers so the
// pipeline sees the same value, stored in the context, and set as the
// X-Request-ID response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
			r.Header.Set("X-Request-ID", requestID)
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context.
// Returns an empty string if no request ID is set.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
