// internal/api/ratelimit.go
package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

type RateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*rate.Limiter
	requestsPerSecond int
	burstSize         int
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: 100,
		burstSize:         200,
	}
}

func (rl *RateLimiter) Allow(workspace string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Cap map growth from workspace churn.
	if len(rl.limiters) >= 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, exists := rl.limiters[workspace]
	if !exists {
		limiter = rate.NewLimiter(
			rate.Limit(rl.requestsPerSecond),
			rl.burstSize,
		)
		rl.limiters[workspace] = limiter
	}

	return limiter.Allow()
}

// RateLimitMiddleware enforces per-workspace request limits.
func RateLimitMiddleware(limiter *RateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			workspace := r.Header.Get("X-Workspace-ID")
			if workspace == "" {
				workspace = "default"
			}

			if !limiter.Allow(workspace) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
