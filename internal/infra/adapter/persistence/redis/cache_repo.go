package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"guildkeeper/internal/repository"
	"guildkeeper/internal/resilience/circuitbreaker"
)

// CacheKeyPrefix namespaces cache entries in a shared Redis.
const CacheKeyPrefix = "cache:"

const scanBatch = 100

// CacheRepo is the remote cache tier. Values expire through Redis' native TTL.
type CacheRepo struct {
	client *goredis.Client
	cb     *circuitbreaker.CircuitBreaker
}

func NewCacheRepo(client *goredis.Client) *CacheRepo {
	return &CacheRepo{
		client: client,
		cb:     circuitbreaker.New(circuitbreaker.RemoteCacheConfig()),
	}
}

// ConnectCache dials url and returns the cache tier.
func ConnectCache(ctx context.Context, url string) (*CacheRepo, error) {
	client, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewCacheRepo(client), nil
}

func (repo *CacheRepo) Name() string { return "redis" }

func (repo *CacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := circuitbreaker.Do(repo.cb, func() ([]byte, error) {
		data, err := repo.client.Get(ctx, CacheKeyPrefix+key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if data == nil {
		return nil, repository.ErrCacheMiss
	}
	return data, nil
}

func (repo *CacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := circuitbreaker.Do(repo.cb, func() (string, error) {
		return repo.client.Set(ctx, CacheKeyPrefix+key, value, ttl).Result()
	})
	if err != nil {
		return fmt.Errorf("Set: %w", err)
	}
	return nil
}

func (repo *CacheRepo) Delete(ctx context.Context, key string) error {
	_, err := circuitbreaker.Do(repo.cb, func() (int64, error) {
		return repo.client.Del(ctx, CacheKeyPrefix+key).Result()
	})
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// DeletePrefix walks the keyspace with SCAN and deletes matches batch by batch.
func (repo *CacheRepo) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	result, err := repo.cb.Execute(func() (interface{}, error) {
		match := escapeGlob(CacheKeyPrefix+prefix) + "*"
		var (
			cursor  uint64
			deleted int
		)
		for {
			keys, next, err := repo.client.Scan(ctx, cursor, match, scanBatch).Result()
			if err != nil {
				return deleted, err
			}
			if len(keys) > 0 {
				n, err := repo.client.Del(ctx, keys...).Result()
				if err != nil {
					return deleted, err
				}
				deleted += int(n)
			}
			if next == 0 {
				return deleted, nil
			}
			cursor = next
		}
	})
	deleted, _ := result.(int)
	if err != nil {
		return deleted, fmt.Errorf("DeletePrefix: %w", err)
	}
	return deleted, nil
}

func (repo *CacheRepo) Close() error {
	return repo.client.Close()
}

var _ repository.CacheRepository = (*CacheRepo)(nil)
