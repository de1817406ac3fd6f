package state

import (
	"context"
	"sort"
	"sync"
)

// AppState is the in-process snapshot the store persists. The host mutates it
// with Set and Delete; the autosave job hands Snapshot() to SaveState.
type AppState struct {
	mu     sync.RWMutex
	values Snapshot
	dirty  bool
}

// NewAppState wraps initial, typically the result of LoadState.
func NewAppState(initial Snapshot) *AppState {
	values := make(Snapshot, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &AppState{values: values}
}

// Get returns the value stored under key.
func (a *AppState) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// Set stores value under key.
func (a *AppState) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
	a.dirty = true
}

// Delete removes key.
func (a *AppState) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.values[key]; ok {
		delete(a.values, key)
		a.dirty = true
	}
}

// Keys returns the stored keys, sorted.
func (a *AppState) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the current values.
func (a *AppState) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := make(Snapshot, len(a.values))
	for k, v := range a.values {
		snap[k] = v
	}
	return snap
}

// Persist saves the current values through store. With onlyDirty it skips
// the write when nothing changed since the last successful persist.
func (a *AppState) Persist(ctx context.Context, store *Store, onlyDirty bool) bool {
	a.mu.Lock()
	if onlyDirty && !a.dirty {
		a.mu.Unlock()
		return true
	}
	snap := make(Snapshot, len(a.values))
	for k, v := range a.values {
		snap[k] = v
	}
	a.dirty = false
	a.mu.Unlock()

	if store.SaveState(ctx, snap) {
		return true
	}

	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
	return false
}
