package common

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound gateway requests and tracks usage.
type RateLimiter struct {
	limiter *rate.Limiter
	waited  atomic.Uint64
	denied  atomic.Uint64
}

// NewRateLimiter creates a limiter allowing rps requests per second with the given burst.
// rps <= 0 disables throttling.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request slot is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		rl.denied.Add(1)
		return err
	}
	rl.waited.Add(1)
	return nil
}

// GetUsage returns the number of admitted and denied requests.
func (rl *RateLimiter) GetUsage() (admitted, denied uint64) {
	return rl.waited.Load(), rl.denied.Load()
}
