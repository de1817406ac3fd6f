package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketStats is a point-in-time view of one domain bucket.
type BucketStats struct {
	ActiveRequests int           `json:"active_requests"`
	MaxRequests    int           `json:"max_requests"`
	Window         time.Duration `json:"window"`
	Utilization    float64       `json:"utilization"`
}

// DomainLimiter is the process-wide registry of domain buckets.
//
// Buckets are created lazily on first use; a domain without an entry in the
// configuration table borrows the DefaultDomain budget. The limiter is safe
// for concurrent use and is owned by the composing application, so tests can
// build as many independent instances as they need.
type DomainLimiter struct {
	mu      sync.RWMutex
	configs map[string]DomainConfig
	buckets map[string]DomainConfig

	store     AtomicRateLimitStore
	algorithm *SlidingWindowAlgorithm
	metrics   RateLimitMetrics
	clock     Clock
	logger    *slog.Logger

	waitBuffer time.Duration
	minWait    time.Duration

	// saturated throttles the "bucket full" log line under sustained pressure.
	saturated rate.Sometimes

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDomainLimiter creates a limiter from cfg. A nil metrics selects NoOpMetrics
// and a nil logger selects slog.Default().
func NewDomainLimiter(cfg LimiterConfig, metrics RateLimitMetrics, logger *slog.Logger) (*DomainLimiter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limiter config: %w", err)
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	storeConfig := DefaultInMemoryStoreConfig()
	if cfg.Clock != nil {
		storeConfig.Clock = cfg.Clock
	}

	configs := make(map[string]DomainConfig, len(cfg.Domains))
	for name, dc := range cfg.Domains {
		configs[name] = dc
	}

	return &DomainLimiter{
		configs:    configs,
		buckets:    make(map[string]DomainConfig),
		store:      NewInMemoryRateLimitStore(storeConfig),
		algorithm:  NewSlidingWindowAlgorithm(cfg.Clock),
		metrics:    metrics,
		clock:      cfg.Clock,
		logger:     logger.With(slog.String("component", "ratelimit")),
		waitBuffer: cfg.WaitBuffer,
		minWait:    cfg.MinWait,
		saturated:  rate.Sometimes{First: 1, Interval: 5 * time.Second},
		sleep:      SleepContext,
	}, nil
}

// Config returns the budget of domain, creating its bucket if needed.
func (l *DomainLimiter) Config(domain string) DomainConfig {
	if domain == "" {
		domain = DefaultDomain
	}

	l.mu.RLock()
	cfg, ok := l.buckets[domain]
	l.mu.RUnlock()
	if ok {
		return cfg
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg, ok := l.buckets[domain]; ok {
		return cfg
	}
	cfg, ok = l.configs[domain]
	if !ok {
		cfg = l.configs[DefaultDomain]
	}
	l.buckets[domain] = cfg
	return cfg
}

// Wait blocks until domain has capacity, then records one request.
//
// While the bucket is full the caller sleeps until the oldest request leaves
// the window (plus a small buffer) and checks again. Wait returns the total
// time spent suspended, or the context error if ctx ends first.
func (l *DomainLimiter) Wait(ctx context.Context, domain string) (time.Duration, error) {
	if domain == "" {
		domain = DefaultDomain
	}
	cfg := l.Config(domain)

	var waited time.Duration
	for {
		decision, err := l.algorithm.IsAllowed(ctx, domain, l.store, cfg.MaxRequests, cfg.Window)
		if err != nil {
			return waited, fmt.Errorf("rate limit check for %s: %w", domain, err)
		}

		if !decision.IsDenied() {
			l.metrics.RecordAllowed(domain)
			l.metrics.SetActiveRequests(domain, decision.Limit-decision.Remaining)
			if waited > 0 {
				l.metrics.RecordWait(domain, waited)
			}
			return waited, nil
		}

		l.metrics.RecordDenied(domain)

		wait := decision.RetryAfter + l.waitBuffer
		if wait < l.minWait {
			wait = l.minWait
		}

		l.saturated.Do(func() {
			l.logger.Info("rate limit reached, waiting for capacity",
				slog.String("domain", domain),
				slog.Int("max_requests", cfg.MaxRequests),
				slog.Duration("window", cfg.Window),
				slog.Duration("wait", wait))
		})

		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// Stats reports every bucket created so far.
func (l *DomainLimiter) Stats(ctx context.Context) map[string]BucketStats {
	l.mu.RLock()
	buckets := make(map[string]DomainConfig, len(l.buckets))
	for name, cfg := range l.buckets {
		buckets[name] = cfg
	}
	l.mu.RUnlock()

	now := l.clock.Now()
	stats := make(map[string]BucketStats, len(buckets))
	for name, cfg := range buckets {
		active, err := l.store.GetRequestCount(ctx, name, now.Add(-cfg.Window))
		if err != nil {
			l.logger.Warn("failed to read bucket", slog.String("domain", name), slog.Any("error", err))
			continue
		}
		stats[name] = BucketStats{
			ActiveRequests: active,
			MaxRequests:    cfg.MaxRequests,
			Window:         cfg.Window,
			Utilization:    float64(active) / float64(cfg.MaxRequests),
		}
	}
	return stats
}

// Domains returns the names of all created buckets, sorted.
func (l *DomainLimiter) Domains() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.buckets))
	for name := range l.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset forgets the bucket of domain. The next call recreates it empty.
func (l *DomainLimiter) Reset(ctx context.Context, domain string) error {
	l.mu.Lock()
	delete(l.buckets, domain)
	l.mu.Unlock()

	l.algorithm.Forget(domain)
	return l.store.Remove(ctx, domain)
}

// Cleanup drops timestamps that have left every window.
func (l *DomainLimiter) Cleanup(ctx context.Context) error {
	l.mu.RLock()
	var longest time.Duration
	for _, cfg := range l.buckets {
		if cfg.Window > longest {
			longest = cfg.Window
		}
	}
	l.mu.RUnlock()

	if longest == 0 {
		return nil
	}

	if err := l.store.Cleanup(ctx, l.clock.Now().Add(-longest)); err != nil {
		return fmt.Errorf("cleanup rate limit store: %w", err)
	}
	l.algorithm.CleanupExpiredTimestamps(longest)

	count, err := l.store.KeyCount(ctx)
	if err == nil {
		l.logger.Debug("rate limit store cleaned", slog.Int("active_keys", count))
	}
	return nil
}

// SleepContext pauses for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
