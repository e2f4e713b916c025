package resilience

import "time"

// bucketState tracks one host's token bucket.
type bucketState struct {
	// Tokens is the current number of available tokens.
	Tokens float64

	// LastRefillAt is when tokens were last refilled.
	LastRefillAt time.Time

	// RetryAfterUntil is set when the host answered 429/503 with Retry-After.
	// No requests should be made until this time passes.
	RetryAfterUntil time.Time
}

// isBlocked returns true if now is within a Retry-After window.
func (b *bucketState) isBlocked(now time.Time) bool {
	if b.RetryAfterUntil.IsZero() {
		return false
	}
	return now.Before(b.RetryAfterUntil)
}

// blockedFor returns how long until the Retry-After window expires.
// Returns zero if not blocked.
func (b *bucketState) blockedFor(now time.Time) time.Duration {
	if b.RetryAfterUntil.IsZero() {
		return 0
	}
	remaining := b.RetryAfterUntil.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
