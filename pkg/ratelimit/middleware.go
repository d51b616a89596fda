package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const limiterTimeout = 100 * time.Millisecond

// Middleware rejects requests whose key is over the limit with 429 and Retry-After.
// Requests with an empty key, or for which the limiter errors, pass through.
func Middleware(l Limiter, keyFunc func(*http.Request) string, retryAfter time.Duration) func(http.Handler) http.Handler {
	retrySecs := strconv.Itoa(int(retryAfter.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), limiterTimeout)
			allowed, err := l.Allow(ctx, key)
			cancel()
			if err != nil {
				slog.Debug("Rate limiter error", "component", "ratelimit", "error", err)
			}
			if !allowed {
				slog.Info("Rate limit exceeded", "component", "ratelimit", "key", key, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retrySecs)
				w.WriteHeader(http.StatusTooManyRequests)
				if err := json.NewEncoder(w).Encode(map[string]string{
					"error": "Too many generation requests. Try again later.",
					"code":  "rate_limited",
				}); err != nil {
					slog.Debug("Failed to write rate limit response", "component", "ratelimit", "error", err)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
