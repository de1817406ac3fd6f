package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SlidingWindowAlgorithm admits a request while fewer than limit recorded
// timestamps fall inside the trailing window, and records it on admission.
//
// The timestamp used for a key never moves backwards: if the clock steps
// back, the last timestamp seen for that key is reused so the window cannot
// be reopened early.
type SlidingWindowAlgorithm struct {
	clock Clock

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewSlidingWindowAlgorithm returns an algorithm reading time from clock, or
// from SystemClock when clock is nil.
func NewSlidingWindowAlgorithm(clock Clock) *SlidingWindowAlgorithm {
	if clock == nil {
		clock = &SystemClock{}
	}
	return &SlidingWindowAlgorithm{clock: clock, lastSeen: make(map[string]time.Time)}
}

// IsAllowed checks key against limit and records the request if admitted.
//
// Stores implementing AtomicRateLimitStore check and record under one lock.
// For any other store the count and the add are separate calls, so racing
// callers may overshoot limit.
func (a *SlidingWindowAlgorithm) IsAllowed(ctx context.Context, key string, store RateLimitStore, limit int, window time.Duration) (*RateLimitDecision, error) {
	now := a.monotonicNow(key)
	cutoff := now.Add(-window)

	var (
		allowed bool
		count   int
		oldest  time.Time
	)
	if as, ok := store.(AtomicRateLimitStore); ok {
		var err error
		allowed, count, oldest, err = as.CheckAndAddRequest(ctx, key, now, cutoff, limit)
		if err != nil {
			return nil, fmt.Errorf("check and add request: %w", err)
		}
	} else {
		inWindow, err := store.GetRequests(ctx, key, cutoff)
		if err != nil {
			return nil, fmt.Errorf("get requests: %w", err)
		}
		count = len(inWindow)
		if count > 0 {
			oldest = inWindow[0]
		}
		if count < limit {
			if err := store.AddRequest(ctx, key, now); err != nil {
				return nil, fmt.Errorf("add request: %w", err)
			}
			allowed = true
			count++
			if oldest.IsZero() {
				oldest = now
			}
		}
	}

	resetAt := now.Add(window)
	if !oldest.IsZero() {
		resetAt = oldest.Add(window)
	}
	if allowed {
		return admitted(key, limit, count, resetAt), nil
	}
	return rejected(key, limit, resetAt, now), nil
}

func (a *SlidingWindowAlgorithm) monotonicNow(key string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if last, ok := a.lastSeen[key]; ok && now.Before(last) {
		slog.Warn("clock moved backwards, reusing last timestamp",
			slog.String("key", key),
			slog.Duration("skew", last.Sub(now)),
		)
		return last
	}
	a.lastSeen[key] = now
	return now
}

// Forget drops the last-seen timestamp for key.
func (a *SlidingWindowAlgorithm) Forget(key string) {
	a.mu.Lock()
	delete(a.lastSeen, key)
	a.mu.Unlock()
}

// CleanupExpiredTimestamps forgets keys not seen within maxAge and returns
// how many were dropped.
func (a *SlidingWindowAlgorithm) CleanupExpiredTimestamps(maxAge time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.clock.Now().Add(-maxAge)
	removed := 0
	for key, last := range a.lastSeen {
		if last.Before(cutoff) {
			delete(a.lastSeen, key)
			removed++
		}
	}
	return removed
}

// TrackedKeys reports how many keys have a last-seen timestamp.
func (a *SlidingWindowAlgorithm) TrackedKeys() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lastSeen)
}
