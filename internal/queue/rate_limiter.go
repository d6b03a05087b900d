package queue

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimitCapacity and DefaultRateLimitPerSecond keep a burst
	// margin below the ERP's documented 10 req/s account limit.
	DefaultRateLimitCapacity  = 9
	DefaultRateLimitPerSecond = 9
)

// RateLimiterInterface is the posting budget shared by everything in the
// process that calls the ERP.
type RateLimiterInterface interface {
	Acquire(ctx context.Context) error
}

// RateLimiter is a token bucket. It never fails, only delays; Acquire
// returns an error solely when ctx is done first.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a bucket holding capacity tokens refilled at
// refillPerSecond. The bucket starts full.
func NewRateLimiter(capacity int, refillPerSecond float64) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(refillPerSecond), capacity)}
}

// DefaultRateLimiter creates a bucket with the canonical ERP budget.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(DefaultRateLimitCapacity, DefaultRateLimitPerSecond)
}

// Acquire blocks until one token is available. Each call consumes exactly
// one token; callers competing for tokens are served in arbitrary order.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for a posting token: %w", err)
	}
	return nil
}

var _ RateLimiterInterface = (*RateLimiter)(nil)
