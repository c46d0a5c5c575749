package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds how long one gateway request may run,
// covering every pipeline stage including upstream retries. The bound
// is cooperative: the deadline propagates through the request context
// into the router's outbound calls, which abort when it expires. A
// non-positive timeout disables the bound.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
