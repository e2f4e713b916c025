// Package resilience provides upstream protection primitives shared by adapters.
package resilience

import (
	"sync"
	"time"
)

// Decision is the result of asking the limiter for permission.
type Decision struct {
	Allowed bool

	// Wait is how long the caller should back off before trying again.
	// Zero when Allowed is true.
	Wait time.Duration
}

// RateLimiter implements one token bucket per upstream host.
// Hosts that answered with Retry-After are blocked until the window passes.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimiterConfig
	buckets map[string]*bucketState
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given config.
// Zero values in config fall back to DefaultRateLimiterConfig.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		config:  config.withDefaults(),
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}
}

// bucket returns the state for key, creating a full bucket on first access.
// Caller must hold rl.mu.
func (rl *RateLimiter) bucket(key string, now time.Time) *bucketState {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucketState{Tokens: rl.config.MaxTokens, LastRefillAt: now}
		rl.buckets[key] = b
	}
	return b
}

// refill adds tokens based on elapsed time since last refill.
func (rl *RateLimiter) refill(b *bucketState, now time.Time) {
	elapsed := now.Sub(b.LastRefillAt)
	if elapsed <= 0 {
		return
	}
	b.LastRefillAt = now
	b.Tokens += elapsed.Seconds() * rl.config.RefillRate
	if b.Tokens > rl.config.MaxTokens {
		b.Tokens = rl.config.MaxTokens
	}
}

// Allow checks whether a request to key may proceed and consumes tokens if so.
func (rl *RateLimiter) Allow(key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.bucket(key, now)

	if b.isBlocked(now) {
		return Decision{Wait: b.blockedFor(now)}
	}

	rl.refill(b, now)
	if b.Tokens >= rl.config.TokensPerRequest {
		b.Tokens -= rl.config.TokensPerRequest
		return Decision{Allowed: true}
	}

	missing := rl.config.TokensPerRequest - b.Tokens
	wait := time.Duration(missing / rl.config.RefillRate * float64(time.Second))
	return Decision{Wait: wait}
}

// SetRetryAfter blocks key until the given time.
// An earlier deadline never shortens an existing block.
func (rl *RateLimiter) SetRetryAfter(key string, until time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if limit := now.Add(rl.config.MaxRetryAfter); until.After(limit) {
		until = limit
	}
	b := rl.bucket(key, now)
	if until.After(b.RetryAfterUntil) {
		b.RetryAfterUntil = until
	}
}

// SetRetryAfterDuration blocks key for the given duration.
func (rl *RateLimiter) SetRetryAfterDuration(key string, d time.Duration) {
	rl.SetRetryAfter(key, rl.now().Add(d))
}
