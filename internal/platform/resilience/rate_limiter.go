// Package resilience guards the remote map service against request storms.
package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket limiter. Tile servers publish usage policies;
// a render pass over a large viewport must not burst past them.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with the
// given burst. Non-positive arguments take defaults.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = int(rate)
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}

		select {
		case <-time.After(rl.nextTokenDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// caller must hold rl.mu
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastUpdate).Seconds() * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
	rl.lastUpdate = now
}

func (rl *RateLimiter) nextTokenDelay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	needed := 1.0 - rl.tokens
	if needed < 0 {
		needed = 0
	}
	delay := time.Duration(needed / rl.rate * float64(time.Second))

	// Floor avoids busy-waiting on tiny fractions.
	if delay < 10*time.Millisecond {
		delay = 10 * time.Millisecond
	}
	return delay
}

// Tokens returns the currently available token count.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return rl.tokens
}
