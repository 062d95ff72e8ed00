package middleware

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a single process-wide gate enforcing a minimum interval
// between requests (spec.md §5 "Global rate limiter"). Built on
// golang.org/x/time/rate rather than a hand-rolled mutex-and-timestamp
// loop: a rate.Limiter with burst 1 and r = 1/interval blocks Wait callers
// exactly the same way, already accounts for clock drift, and is the
// ecosystem's standard token-bucket limiter. Deliberately a single shared
// limiter, not per-client — mirrors original_source/src/handlers/
// limit.rs's GLOBAL_RATE_LIMITER.
type RateLimiter struct {
	limiter  *rate.Limiter
	disabled bool
}

// NewRateLimiter returns a limiter enforcing interval between acquisitions.
// interval <= 0 disables the limiter (spec.md §6 "RATE_LIMIT_MS: 0
// disables").
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		return &RateLimiter{disabled: true}
	}

	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Acquire blocks until the configured interval has elapsed since the last
// acquisition.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if rl.disabled {
		return nil
	}

	return rl.limiter.Wait(ctx)
}

// Middleware applies Acquire before calling next — used on the chat
// completions route only, per spec.md §5's "minimum interval between chat
// completion requests".
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := rl.Acquire(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
