package resilience

import "time"

// RateLimiterConfig configures the per-host token bucket rate limiter.
type RateLimiterConfig struct {
	// MaxTokens is the maximum number of tokens in each bucket.
	// Default: 5
	MaxTokens float64

	// RefillRate is how many tokens are added per second.
	// Default: 1
	RefillRate float64

	// TokensPerRequest is how many tokens each request consumes.
	// Default: 1
	TokensPerRequest float64

	// MaxRetryAfter bounds how long a single Retry-After response may block a host.
	// Default: 1 hour
	MaxRetryAfter time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults for public booking sites.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:        5,
		RefillRate:       1,
		TokensPerRequest: 1,
		MaxRetryAfter:    time.Hour,
	}
}

func (rl RateLimiterConfig) withDefaults() RateLimiterConfig {
	d := DefaultRateLimiterConfig()
	if rl.MaxTokens <= 0 {
		rl.MaxTokens = d.MaxTokens
	}
	if rl.RefillRate <= 0 {
		rl.RefillRate = d.RefillRate
	}
	if rl.TokensPerRequest <= 0 {
		rl.TokensPerRequest = d.TokensPerRequest
	}
	if rl.MaxRetryAfter <= 0 {
		rl.MaxRetryAfter = d.MaxRetryAfter
	}
	return rl
}
