package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/eliterp/cloudstore/internal/api/protocol"
	"github.com/eliterp/cloudstore/internal/metrics"
)

// UserIDFromContext extracts the user ID from the request context.
// This function type allows decoupling from the auth package.
type UserIDFromContext func(ctx context.Context) (userID string, ok bool)

// RateLimitMiddleware returns middleware that enforces per-user rate limits.
func RateLimitMiddleware(limiter *RateLimiter, store *Store, getUserID UserIDFromContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := getUserID(r.Context())
			if !ok {
				// No user context (unauthenticated request) - let it pass
				next.ServeHTTP(w, r)
				return
			}

			q, err := store.GetQuota(r.Context(), userID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			rpm := q.MaxRequestsPerMin
			if !limiter.Allow(userID, rpm) {
				metrics.RecordRateLimitHit()
				retryAfter := limiter.RetryAfter(userID, rpm)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(protocol.ErrorResponse{
					Error: "rate limit exceeded",
					Code:  http.StatusTooManyRequests,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
