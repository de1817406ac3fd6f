// Package cache implements a read-through TTL cache with an optional shared
// remote tier. Misses call a caller-supplied fetch function; when the fetch
// fails and an older value is still held locally, that value is served stale.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"guildkeeper/internal/repository"
)

// FetchFunc produces a fresh value for a missing key.
type FetchFunc func(ctx context.Context) (any, error)

// Stats is a snapshot of the local tier.
type Stats struct {
	Total   int    `json:"total"`
	Active  int    `json:"active"`
	Expired int    `json:"expired"`
	Backend string `json:"backend"`
}

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) valid(now time.Time) bool {
	return now.Before(e.expiresAt)
}

// ReadThroughCache is safe for concurrent use. Locks are never held while
// calling the remote tier or a fetch function.
type ReadThroughCache struct {
	mu      sync.RWMutex
	entries map[string]entry

	cfg     Config
	remote  repository.CacheRepository
	flights singleflight.Group
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a ReadThroughCache.
type Option func(*ReadThroughCache)

// WithRemote adds a shared tier consulted on local misses and written on every Set.
func WithRemote(remote repository.CacheRepository) Option {
	return func(c *ReadThroughCache) { c.remote = remote }
}

func WithMetrics(m *Metrics) Option {
	return func(c *ReadThroughCache) { c.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *ReadThroughCache) { c.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *ReadThroughCache) { c.now = now }
}

// New creates an empty cache.
func New(cfg Config, opts ...Option) *ReadThroughCache {
	c := &ReadThroughCache{
		entries: make(map[string]entry),
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "cache"))
	return c
}

// Get returns the value for key, calling fetch on a miss. A ttl of zero
// resolves through the prefix table.
//
// Concurrent misses on the same key share one fetch. The fetch runs detached
// from any single caller's context, bounded by Config.FetchTimeout, so a
// caller that gives up does not fail the others. If the fetch fails and a
// previous local value exists, even an expired one, that value is returned
// with a nil error.
func (c *ReadThroughCache) Get(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) (any, error) {
	ttl = c.cfg.ResolveTTL(key, ttl)

	if value, ok := c.lookupLocal(key); ok {
		c.metrics.recordLookup(ResultHit)
		return value, nil
	}

	if value, ok := c.lookupRemote(ctx, key, ttl); ok {
		c.metrics.recordLookup(ResultRemoteHit)
		return value, nil
	}

	flight := c.flights.DoChan(key, func() (any, error) {
		// A flight that finished just before this one may have filled the key.
		if value, ok := c.lookupLocal(key); ok {
			return value, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.fetchTimeout())
		defer cancel()

		value, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if !isNil(value) {
			c.Set(fetchCtx, key, value, ttl)
		}
		return value, nil
	})

	var err error
	select {
	case res := <-flight:
		if res.Err == nil {
			c.metrics.recordLookup(ResultMiss)
			return res.Val, nil
		}
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.mu.RLock()
	stale, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.metrics.recordLookup(ResultStale)
		c.logger.Warn("fetch failed, serving stale value",
			slog.String("key", key),
			slog.Time("expired_at", stale.expiresAt),
			slog.Any("error", err))
		return stale.value, nil
	}

	c.metrics.recordLookup(ResultError)
	return nil, err
}

// GetAs is Get with a typed fetch function. Values decoded from the remote
// tier arrive as generic JSON and are converted to T.
func GetAs[T any](ctx context.Context, c *ReadThroughCache, key string, fetch func(ctx context.Context) (T, error), ttl time.Duration) (T, error) {
	var zero T

	value, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, ttl)
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	if typed, ok := value.(T); ok {
		return typed, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return zero, fmt.Errorf("cache %q: re-encode: %w", key, err)
	}
	var typed T
	if err := json.Unmarshal(data, &typed); err != nil {
		return zero, fmt.Errorf("cache %q: decode as %T: %w", key, zero, err)
	}
	return typed, nil
}

// Set stores value in the local tier and, when configured, the remote tier.
// Remote failures are logged and ignored.
func (c *ReadThroughCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	ttl = c.cfg.ResolveTTL(key, ttl)

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	if c.remote == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("value not serializable, kept local only",
			slog.String("key", key),
			slog.Any("error", err))
		return
	}
	if err := c.remote.Set(ctx, key, data, ttl); err != nil {
		c.metrics.recordRemoteError("set")
		c.logger.Debug("remote cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Invalidate removes key from both tiers.
func (c *ReadThroughCache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.remote == nil {
		return
	}
	if err := c.remote.Delete(ctx, key); err != nil {
		c.metrics.recordRemoteError("delete")
		c.logger.Debug("remote cache delete failed", slog.String("key", key), slog.Any("error", err))
	}
}

// InvalidatePrefix removes every local key starting with prefix and returns
// how many were removed. Remote deletion is best effort.
func (c *ReadThroughCache) InvalidatePrefix(ctx context.Context, prefix string) int {
	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if c.remote != nil {
		if _, err := c.remote.DeletePrefix(ctx, prefix); err != nil {
			c.metrics.recordRemoteError("delete_prefix")
			c.logger.Debug("remote cache prefix delete failed", slog.String("prefix", prefix), slog.Any("error", err))
		}
	}
	return removed
}

// Cleanup drops local entries whose expiry has passed and returns the count.
// The remote tier expires entries on its own.
func (c *ReadThroughCache) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if !e.valid(now) {
			delete(c.entries, key)
			removed++
		}
	}
	active := len(c.entries)
	c.mu.Unlock()

	c.metrics.setEntries(active, 0)
	if removed > 0 {
		c.logger.Info("expired cache entries removed", slog.Int("removed", removed))
	}
	return removed
}

// Stats counts local entries at the current time.
func (c *ReadThroughCache) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Total: len(c.entries), Backend: c.Backend()}
	for _, e := range c.entries {
		if e.valid(now) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats
}

// Backend names the configured tiers, e.g. "memory" or "redis+memory".
func (c *ReadThroughCache) Backend() string {
	if c.remote == nil {
		return "memory"
	}
	return c.remote.Name() + "+memory"
}

// Close releases the remote tier and empties the local one.
func (c *ReadThroughCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	if c.remote == nil {
		return nil
	}
	if err := c.remote.Close(); err != nil {
		return fmt.Errorf("close remote cache: %w", err)
	}
	return nil
}

func (c *ReadThroughCache) lookupLocal(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !e.valid(c.now()) {
		return nil, false
	}
	return e.value, true
}

func (c *ReadThroughCache) lookupRemote(ctx context.Context, key string, ttl time.Duration) (any, bool) {
	if c.remote == nil {
		return nil, false
	}

	data, err := c.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrCacheMiss) {
			c.metrics.recordRemoteError("get")
			c.logger.Debug("remote cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		c.metrics.recordRemoteError("decode")
		c.logger.Debug("remote cache entry not decodable", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return value, true
}

// isNil reports whether v is nil or a nil pointer, map, slice or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
