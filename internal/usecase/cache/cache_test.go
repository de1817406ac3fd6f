package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildkeeper/internal/repository"
)

/* ──────────────────────────────── helpers ──────────────────────────────── */

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type remoteEntry struct {
	data []byte
	ttl  time.Duration
}

// fakeRemote is an in-memory CacheRepository with an injectable failure.
type fakeRemote struct {
	mu      sync.Mutex
	entries map[string]remoteEntry
	err     error
	closed  bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{entries: make(map[string]remoteEntry)}
}

func (f *fakeRemote) Name() string { return "redis" }

func (f *fakeRemote) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return e.data, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries[key] = remoteEntry{data: value, ttl: ttl}
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeRemote) DeletePrefix(_ context.Context, prefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for key := range f.entries {
		if strings.HasPrefix(key, prefix) {
			delete(f.entries, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeRemote) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRemote) entry(key string) (remoteEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return e, ok
}

func (f *fakeRemote) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type countingFetch struct {
	calls atomic.Int32
	value any
	err   error
}

func (f *countingFetch) fetch(context.Context) (any, error) {
	f.calls.Add(1)
	return f.value, f.err
}

/* ──────────────────────────────── 1. TTL resolution ──────────────────────────────── */

func TestConfig_ResolveTTL(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		key  string
		ttl  time.Duration
		want time.Duration
	}{
		{name: "explicit ttl wins", key: "faceit_player:abc", ttl: 42 * time.Second, want: 42 * time.Second},
		{name: "prefix table", key: "faceit_player:abc", want: 10 * time.Minute},
		{name: "match prefix", key: "faceit_match:1-abc:stats", want: time.Hour},
		{name: "twitch prefix", key: "twitch_stream:someone", want: 2 * time.Minute},
		{name: "unknown prefix", key: "weather:lisbon", want: DefaultTTL},
		{name: "key without delimiter", key: "autorole_config", want: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.ResolveTTL(tt.key, tt.ttl))
		})
	}
}

func TestConfig_WithOverrides(t *testing.T) {
	base := DefaultConfig()
	cfg := base.WithOverrides(map[string]time.Duration{
		"twitch_stream": 30 * time.Second,
		"weather":       15 * time.Minute,
		"ignored":       0,
	})

	assert.Equal(t, 30*time.Second, cfg.ResolveTTL("twitch_stream:x", 0))
	assert.Equal(t, 15*time.Minute, cfg.ResolveTTL("weather:x", 0))
	assert.Equal(t, DefaultTTL, cfg.ResolveTTL("ignored:x", 0))
	// The receiver is untouched.
	assert.Equal(t, 2*time.Minute, base.ResolveTTL("twitch_stream:x", 0))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "faceit_player", Prefix("faceit_player:abc:def"))
	assert.Equal(t, "plain", Prefix("plain"))
	assert.Equal(t, "", Prefix(":leading"))
}

/* ──────────────────────────────── 2. Read-through ──────────────────────────────── */

func TestGet_MissThenHit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New(DefaultConfig(), WithClock(clock.Now))
	f := &countingFetch{value: "fresh"}

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, "faceit_player:abc", f.fetch, 0)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got)
	}
	assert.Equal(t, int32(1), f.calls.Load())

	// One second before the 10 minute TTL runs out the entry is still served.
	clock.Advance(10*time.Minute - time.Second)
	_, _ = c.Get(ctx, "faceit_player:abc", f.fetch, 0)
	assert.Equal(t, int32(1), f.calls.Load())

	// expiresAt is exclusive.
	clock.Advance(time.Second)
	_, _ = c.Get(ctx, "faceit_player:abc", f.fetch, 0)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGet_StaleOnFetchFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New(DefaultConfig(), WithClock(clock.Now))

	_, err := c.Get(ctx, "k", (&countingFetch{value: 1}).fetch, time.Second)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	failing := &countingFetch{err: errors.New("upstream down")}
	got, err := c.Get(ctx, "k", failing.fetch, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, int32(1), failing.calls.Load())
}

func TestGet_PropagatesErrorWithoutPriorValue(t *testing.T) {
	upstream := errors.New("upstream down")
	c := New(DefaultConfig())

	got, err := c.Get(context.Background(), "k", (&countingFetch{err: upstream}).fetch, 0)
	assert.ErrorIs(t, err, upstream)
	assert.Nil(t, got)
	assert.Equal(t, 0, c.Stats().Total)
}

func TestGet_NilResultIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(DefaultConfig())

	var missing *struct{ Name string }
	f := &countingFetch{value: missing}

	for i := 0; i < 2; i++ {
		got, err := c.Get(ctx, "k", f.fetch, 0)
		require.NoError(t, err)
		assert.True(t, isNil(got))
	}
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 0, c.Stats().Total)
}

func TestGet_ConcurrentMissesShareOneFetch(t *testing.T) {
	ctx := context.Background()
	c := New(DefaultConfig())

	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 10
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	results := make([]any, callers)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, err := c.Get(ctx, "twitch_stream:x", fetch, 0)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	// Give every goroutine time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestGet_CanceledCallerDoesNotFailSharedFetch(t *testing.T) {
	c := New(DefaultConfig())

	release := make(chan struct{})
	entered := make(chan struct{})
	var fetchErr atomic.Value
	fetch := func(ctx context.Context) (any, error) {
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			fetchErr.Store(err)
			return nil, err
		}
		return "shared", nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Get(firstCtx, "twitch_stream:x", fetch, 0)
		firstDone <- err
	}()
	<-entered

	secondDone := make(chan any, 1)
	go func() {
		v, err := c.Get(context.Background(), "twitch_stream:x", fetch, 0)
		assert.NoError(t, err)
		secondDone <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(release)
	select {
	case v := <-secondDone:
		assert.Equal(t, "shared", v)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Nil(t, fetchErr.Load())

	got, ok := c.lookupLocal("twitch_stream:x")
	require.True(t, ok)
	assert.Equal(t, "shared", got)
}

func TestGet_SharedFetchIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FetchTimeout = 20 * time.Millisecond
	c := New(cfg)

	fetch := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	_, err := c.Get(context.Background(), "weather:lisbon", fetch, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

/* ──────────────────────────────── 3. Remote tier ──────────────────────────────── */

func TestGet_RemoteHitPopulatesLocal(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	require.NoError(t, remote.Set(ctx, "faceit_stats:abc", []byte(`{"elo":2100}`), time.Minute))

	c := New(DefaultConfig(), WithRemote(remote))
	f := &countingFetch{value: "unused"}

	got, err := c.Get(ctx, "faceit_stats:abc", f.fetch, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"elo": float64(2100)}, got)
	assert.Zero(t, f.calls.Load())

	// Served locally even after the remote entry disappears.
	require.NoError(t, remote.Delete(ctx, "faceit_stats:abc"))
	_, err = c.Get(ctx, "faceit_stats:abc", f.fetch, 0)
	require.NoError(t, err)
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, "redis+memory", c.Stats().Backend)
}

func TestGet_RemoteErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.fail(errors.New("connection refused"))

	c := New(DefaultConfig(), WithRemote(remote))
	got, err := c.Get(ctx, "k", (&countingFetch{value: "v"}).fetch, 0)
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	// The local write still happened.
	assert.Equal(t, 1, c.Stats().Active)

	c.Invalidate(ctx, "k")
	assert.Equal(t, 0, c.InvalidatePrefix(ctx, "k"))
}

func TestGet_CorruptRemoteEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	require.NoError(t, remote.Set(ctx, "k", []byte(`{not json`), time.Minute))

	c := New(DefaultConfig(), WithRemote(remote))
	got, err := c.Get(ctx, "k", (&countingFetch{value: "fetched"}).fetch, 0)
	require.NoError(t, err)
	assert.Equal(t, "fetched", got)
}

func TestSet_WritesBothTiers(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := New(DefaultConfig(), WithRemote(remote))

	c.Set(ctx, "twitch_stream:x", map[string]bool{"live": true}, 0)

	e, ok := remote.entry("twitch_stream:x")
	require.True(t, ok)
	assert.JSONEq(t, `{"live":true}`, string(e.data))
	assert.Equal(t, 2*time.Minute, e.ttl)
	assert.Equal(t, 1, c.Stats().Active)
}

func TestSet_UnserializableValueStaysLocal(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := New(DefaultConfig(), WithRemote(remote))

	c.Set(ctx, "k", make(chan int), time.Minute)

	_, ok := remote.entry("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats().Active)
}

/* ──────────────────────────────── 4. Invalidation & maintenance ──────────────────────────────── */

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := New(DefaultConfig(), WithRemote(remote))

	c.Set(ctx, "faceit_player:a", 1, 0)
	c.Set(ctx, "faceit_player:b", 2, 0)
	c.Set(ctx, "faceit_stats:a", 3, 0)

	c.Invalidate(ctx, "faceit_stats:a")
	_, ok := remote.entry("faceit_stats:a")
	assert.False(t, ok)

	assert.Equal(t, 2, c.InvalidatePrefix(ctx, "faceit_player:"))
	assert.Equal(t, 0, c.Stats().Total)
	_, ok = remote.entry("faceit_player:a")
	assert.False(t, ok)
}

func TestCleanup_RemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New(DefaultConfig(), WithClock(clock.Now))

	c.Set(ctx, "short", 1, time.Second)
	c.Set(ctx, "long", 2, time.Hour)
	clock.Advance(time.Second)

	assert.Equal(t, Stats{Total: 2, Active: 1, Expired: 1, Backend: "memory"}, c.Stats())
	assert.Equal(t, 1, c.Cleanup())
	assert.Equal(t, Stats{Total: 1, Active: 1, Expired: 0, Backend: "memory"}, c.Stats())
	assert.Equal(t, 0, c.Cleanup())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := New(DefaultConfig(), WithRemote(remote))
	c.Set(ctx, "k", 1, 0)

	require.NoError(t, c.Close())
	assert.True(t, remote.closed)
	assert.Equal(t, 0, c.Stats().Total)

	assert.NoError(t, New(DefaultConfig()).Close())
}

/* ──────────────────────────────── 5. Typed access ──────────────────────────────── */

type playerStats struct {
	Nickname string `json:"nickname"`
	Elo      int    `json:"elo"`
}

func TestGetAs(t *testing.T) {
	ctx := context.Background()
	c := New(DefaultConfig())

	fetch := func(context.Context) (playerStats, error) {
		return playerStats{Nickname: "mutiris", Elo: 2300}, nil
	}
	got, err := GetAs(ctx, c, "faceit_player:mutiris", fetch, 0)
	require.NoError(t, err)
	assert.Equal(t, playerStats{Nickname: "mutiris", Elo: 2300}, got)
}

func TestGetAs_FromRemoteJSON(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	require.NoError(t, remote.Set(ctx, "faceit_player:x", []byte(`{"nickname":"x","elo":1500}`), time.Minute))
	c := New(DefaultConfig(), WithRemote(remote))

	got, err := GetAs(ctx, c, "faceit_player:x", func(context.Context) (playerStats, error) {
		t.Fatal("fetch must not run on a remote hit")
		return playerStats{}, nil
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, playerStats{Nickname: "x", Elo: 1500}, got)
}

func TestGetAs_DecodeMismatch(t *testing.T) {
	ctx := context.Background()
	c := New(DefaultConfig())
	c.Set(ctx, "k", "not a struct", time.Minute)

	_, err := GetAs(ctx, c, "k", func(context.Context) (playerStats, error) {
		return playerStats{}, nil
	}, 0)
	assert.Error(t, err)
}

/* ──────────────────────────────── 6. Metrics ──────────────────────────────── */

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := New(DefaultConfig(), WithMetrics(m), WithClock(clock.Now))

	_, _ = c.Get(ctx, "k", (&countingFetch{value: 1}).fetch, time.Second)
	_, _ = c.Get(ctx, "k", (&countingFetch{value: 1}).fetch, time.Second)
	clock.Advance(time.Minute)
	_, _ = c.Get(ctx, "k", (&countingFetch{err: errors.New("x")}).fetch, time.Second)
	_, _ = c.Get(ctx, "other", (&countingFetch{err: errors.New("x")}).fetch, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues(ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues(ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues(ResultStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues(ResultError)))

	c.Cleanup()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.entries.WithLabelValues("active")))
}
