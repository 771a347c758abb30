// Package server throttles inbound frames per connection so a single chatty
// client cannot monopolize the router.
package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket sized by RateLimitConfig: Burst tokens
// replenished evenly over RefillInterval. Each inbound frame spends one token;
// frames arriving with an empty bucket are discarded by the read pump.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	perSecond  float64
	lastRefill time.Time
}

func newRateLimiter(burst int, refillInterval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if refillInterval <= 0 {
		refillInterval = time.Second
	}

	perSecond := float64(burst) / refillInterval.Seconds()
	if perSecond <= 0 {
		perSecond = float64(burst)
	}

	return &rateLimiter{
		tokens:     float64(burst),
		burst:      float64(burst),
		perSecond:  perSecond,
		lastRefill: time.Now(),
	}
}

// allow spends one token, refilling the bucket for the time elapsed since the
// last call. It reports false when the bucket is empty.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

// refill credits tokens accrued since the last refill, capped at the burst.
func (rl *rateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.perSecond
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
}
