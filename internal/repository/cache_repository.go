package repository

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by CacheRepository.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// CacheRepository is a shared remote tier behind the in-process cache.
// Entries expire natively after their TTL.
type CacheRepository interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and returns the count.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}
