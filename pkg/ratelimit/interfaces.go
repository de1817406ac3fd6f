// Package ratelimit provides per-domain sliding window rate limiting for
// outbound API calls.
//
// Every upstream the application talks to (a "domain" such as "faceit" or
// "twitch") owns one bucket: a budget of MaxRequests per Window plus the retry
// policy used when that upstream misbehaves. Buckets are created lazily and
// live for the lifetime of the DomainLimiter that owns them.
package ratelimit

import (
	"context"
	"time"
)

// RateLimitStore defines the interface for storing and retrieving request timestamps.
//
// Implementations must be safe for concurrent use.
type RateLimitStore interface {
	// AddRequest records a new request timestamp for the given key.
	AddRequest(ctx context.Context, key string, timestamp time.Time) error

	// GetRequests retrieves all request timestamps for the given key
	// that occurred after the cutoff time, oldest first.
	GetRequests(ctx context.Context, key string, cutoff time.Time) ([]time.Time, error)

	// GetRequestCount returns the number of requests for the given key
	// that occurred after the cutoff time.
	GetRequestCount(ctx context.Context, key string, cutoff time.Time) (int, error)

	// Cleanup removes timestamps older than cutoff from every key.
	// Keys left without timestamps are dropped.
	Cleanup(ctx context.Context, cutoff time.Time) error

	// Remove forgets every timestamp recorded for key.
	Remove(ctx context.Context, key string) error

	// KeyCount returns the number of active keys currently in storage.
	KeyCount(ctx context.Context) (int, error)
}

// AtomicRateLimitStore extends RateLimitStore with an atomic check-and-add.
//
// The check and the add happen within a single lock acquisition, so concurrent
// callers on the same key can never push the window past its limit.
type AtomicRateLimitStore interface {
	RateLimitStore

	// CheckAndAddRequest prunes timestamps at or before cutoff, then records
	// timestamp if fewer than limit remain.
	//
	// Returns:
	//   - allowed: true if the request was within limit and added
	//   - count: requests in the window (after adding if allowed)
	//   - oldest: the oldest timestamp still inside the window (zero if none)
	//   - err: error if the operation fails
	CheckAndAddRequest(ctx context.Context, key string, timestamp, cutoff time.Time, limit int) (allowed bool, count int, oldest time.Time, err error)
}

// RateLimitAlgorithm decides whether a request may proceed right now.
type RateLimitAlgorithm interface {
	// IsAllowed checks the window for key and, when allowed, records the request.
	IsAllowed(ctx context.Context, key string, store RateLimitStore, limit int, window time.Duration) (*RateLimitDecision, error)
}

// RateLimitMetrics records limiter activity.
type RateLimitMetrics interface {
	// RecordAllowed records an admitted request for domain.
	RecordAllowed(domain string)

	// RecordDenied records a check that found the bucket at capacity.
	RecordDenied(domain string)

	// RecordWait records the time a caller spent suspended waiting for capacity.
	RecordWait(domain string, d time.Duration)

	// SetActiveRequests records the number of requests inside the window.
	SetActiveRequests(domain string, count int)
}

// Clock provides an abstraction for time operations to enable testing.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock implementation that uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}
