package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitDecision is the outcome of one admission check against a bucket.
type RateLimitDecision struct {
	Key       string
	Allowed   bool
	Limit     int
	Remaining int

	// ResetAt is when the oldest request in the window expires.
	ResetAt time.Time

	// RetryAfter is zero for admitted requests.
	RetryAfter time.Duration
}

func (d *RateLimitDecision) String() string {
	verdict := "allowed"
	if !d.Allowed {
		verdict = "denied retry_after=" + d.RetryAfter.String()
	}
	return fmt.Sprintf("%s %s %d/%d reset=%s",
		d.Key, verdict, d.Remaining, d.Limit, d.ResetAt.Format(time.RFC3339))
}

func (d *RateLimitDecision) IsDenied() bool { return !d.Allowed }

// admitted builds the decision for a request that was recorded as the
// count-th request inside the window.
func admitted(key string, limit, count int, resetAt time.Time) *RateLimitDecision {
	return &RateLimitDecision{
		Key:       key,
		Allowed:   true,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
}

// rejected builds the decision for a full bucket; RetryAfter never goes negative.
func rejected(key string, limit int, resetAt, now time.Time) *RateLimitDecision {
	return &RateLimitDecision{
		Key:        key,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: max(resetAt.Sub(now), 0),
	}
}
