package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// InMemoryRateLimitStore keeps per-key timestamps in arrival order.
//
// The number of keys is bounded by MaxKeys. Adding a new key to a full store
// evicts the least recently written tenth of the keys.
type InMemoryRateLimitStore struct {
	mu      sync.RWMutex
	windows map[string]*list.Element
	recency *list.List // front = most recently written; values are *window
	maxKeys int
	clock   Clock
}

type window struct {
	key        string
	timestamps []time.Time
}

// InMemoryStoreConfig configures NewInMemoryRateLimitStore.
type InMemoryStoreConfig struct {
	// MaxKeys bounds the number of tracked keys. Default: 1000
	MaxKeys int

	// Clock defaults to SystemClock.
	Clock Clock
}

func DefaultInMemoryStoreConfig() InMemoryStoreConfig {
	return InMemoryStoreConfig{MaxKeys: 1000, Clock: &SystemClock{}}
}

func NewInMemoryRateLimitStore(config InMemoryStoreConfig) *InMemoryRateLimitStore {
	if config.MaxKeys <= 0 {
		config.MaxKeys = 1000
	}
	if config.Clock == nil {
		config.Clock = &SystemClock{}
	}
	return &InMemoryRateLimitStore{
		windows: make(map[string]*list.Element),
		recency: list.New(),
		maxKeys: config.MaxKeys,
		clock:   config.Clock,
	}
}

func (s *InMemoryRateLimitStore) AddRequest(_ context.Context, key string, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(key, timestamp)
	return nil
}

func (s *InMemoryRateLimitStore) GetRequests(_ context.Context, key string, cutoff time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []time.Time{}
	if w := s.lookup(key); w != nil {
		for _, ts := range w.timestamps {
			if ts.After(cutoff) {
				result = append(result, ts)
			}
		}
	}
	return result, nil
}

func (s *InMemoryRateLimitStore) GetRequestCount(_ context.Context, key string, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	if w := s.lookup(key); w != nil {
		for _, ts := range w.timestamps {
			if ts.After(cutoff) {
				count++
			}
		}
	}
	return count, nil
}

func (s *InMemoryRateLimitStore) Cleanup(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, elem := range s.windows {
		w := elem.Value.(*window)
		w.timestamps = pruneBefore(w.timestamps, cutoff)
		if len(w.timestamps) == 0 {
			s.recency.Remove(elem)
			delete(s.windows, key)
		}
	}
	return nil
}

func (s *InMemoryRateLimitStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.windows[key]; ok {
		s.recency.Remove(elem)
		delete(s.windows, key)
	}
	return nil
}

func (s *InMemoryRateLimitStore) KeyCount(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows), nil
}

// CheckAndAddRequest prunes the window of key and records timestamp when
// fewer than limit requests remain, all under one lock.
func (s *InMemoryRateLimitStore) CheckAndAddRequest(_ context.Context, key string, timestamp, cutoff time.Time, limit int) (bool, int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		oldest time.Time
		count  int
	)
	if w := s.lookup(key); w != nil {
		w.timestamps = pruneBefore(w.timestamps, cutoff)
		count = len(w.timestamps)
		if count > 0 {
			oldest = w.timestamps[0]
		}
	}

	if count >= limit {
		return false, count, oldest, nil
	}

	s.record(key, timestamp)
	if oldest.IsZero() {
		oldest = timestamp
	}
	return true, count + 1, oldest, nil
}

func (s *InMemoryRateLimitStore) lookup(key string) *window {
	if elem, ok := s.windows[key]; ok {
		return elem.Value.(*window)
	}
	return nil
}

// record appends timestamp and marks key most recent. Caller holds the write lock.
func (s *InMemoryRateLimitStore) record(key string, timestamp time.Time) {
	elem, ok := s.windows[key]
	if !ok {
		if len(s.windows) >= s.maxKeys {
			s.evict(max(s.maxKeys/10, 1))
		}
		elem = s.recency.PushFront(&window{key: key, timestamps: make([]time.Time, 0, 32)})
		s.windows[key] = elem
	} else {
		s.recency.MoveToFront(elem)
	}

	w := elem.Value.(*window)
	w.timestamps = append(w.timestamps, timestamp)
}

func (s *InMemoryRateLimitStore) evict(n int) {
	for ; n > 0; n-- {
		back := s.recency.Back()
		if back == nil {
			return
		}
		s.recency.Remove(back)
		delete(s.windows, back.Value.(*window).key)
	}
}

// pruneBefore drops every timestamp at or before cutoff, reusing the backing array.
func pruneBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
