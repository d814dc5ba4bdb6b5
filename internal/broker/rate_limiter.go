package broker

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket throttling outbound broker calls.
// The broker enforces per-second request limits; exceeding them earns
// escalating blocks, so every request waits for a token first.
type RateLimiter struct {
	mu       sync.Mutex
	rate     float64 // Tokens per second
	capacity float64
	tokens   float64
	last     time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = 3
	}
	return &RateLimiter{rate: rps, capacity: rps, tokens: rps, last: time.Now()}
}

// Wait blocks until a token is available or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.last).Seconds() * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.last = now

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
