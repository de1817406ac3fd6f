package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"guildkeeper/internal/repository"
	"guildkeeper/internal/resilience/circuitbreaker"
)

// StateKey is the Redis key holding the snapshot.
const StateKey = "guildkeeper:state"

// StateRepo stores the state document under a single Redis key with no expiry.
type StateRepo struct {
	client *goredis.Client
	cb     *circuitbreaker.CircuitBreaker
	key    string
}

func NewStateRepo(client *goredis.Client) *StateRepo {
	return &StateRepo{
		client: client,
		cb:     circuitbreaker.New(circuitbreaker.StateBackendConfig("state-redis")),
		key:    StateKey,
	}
}

// Connect dials url and returns the repository.
func Connect(ctx context.Context, url string) (*StateRepo, error) {
	client, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewStateRepo(client), nil
}

func (repo *StateRepo) Name() string { return "redis" }

func (repo *StateRepo) Save(ctx context.Context, payload []byte) error {
	_, err := circuitbreaker.Do(repo.cb, func() (string, error) {
		return repo.client.Set(ctx, repo.key, payload, 0).Result()
	})
	if err != nil {
		return fmt.Errorf("Save: SET %s: %w", repo.key, err)
	}
	return nil
}

func (repo *StateRepo) Load(ctx context.Context) ([]byte, error) {
	data, err := circuitbreaker.Do(repo.cb, func() ([]byte, error) {
		data, err := repo.client.Get(ctx, repo.key).Bytes()
		// A missing key is an answer, not a backend failure.
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("Load: GET %s: %w", repo.key, err)
	}
	if data == nil {
		return nil, repository.ErrStateNotFound
	}
	return data, nil
}

func (repo *StateRepo) Close() error {
	return repo.client.Close()
}

var _ repository.StateRepository = (*StateRepo)(nil)
