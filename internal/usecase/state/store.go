// Package state persists the application's single state document through the
// first backend that works: a networked store (Redis or Postgres) when a
// connection string is given, then an embedded SQLite file, then a flat JSON
// file. Persistence never fails its caller: saves report success as a bool and
// loads fall back to an empty document.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"guildkeeper/internal/infra/adapter/persistence/file"
	"guildkeeper/internal/infra/adapter/persistence/postgres"
	"guildkeeper/internal/infra/adapter/persistence/redis"
	"guildkeeper/internal/infra/adapter/persistence/sqlite"
	"guildkeeper/internal/repository"
	"guildkeeper/internal/resilience/circuitbreaker"
	"guildkeeper/internal/resilience/retry"
)

// Snapshot is the whole mutable application configuration.
type Snapshot = map[string]any

// ErrNotInitialized is logged when the store is used before Init.
var ErrNotInitialized = errors.New("state store not initialized")

// Backends, in fallback order.
type Backends struct {
	Redis    func(ctx context.Context, url string) (repository.StateRepository, error)
	Postgres func(ctx context.Context, dsn string) (repository.StateRepository, error)
	Embedded func(ctx context.Context, dataDir string) (repository.StateRepository, error)
	File     func(dataDir string) (repository.StateRepository, error)
}

// DefaultBackends wires the production adapters.
func DefaultBackends() Backends {
	return Backends{
		Redis: func(ctx context.Context, url string) (repository.StateRepository, error) {
			return redis.Connect(ctx, url)
		},
		Postgres: func(ctx context.Context, dsn string) (repository.StateRepository, error) {
			return postgres.Connect(ctx, dsn)
		},
		Embedded: func(ctx context.Context, dataDir string) (repository.StateRepository, error) {
			return sqlite.Open(ctx, dataDir)
		},
		File: func(dataDir string) (repository.StateRepository, error) {
			return file.NewStateRepo(dataDir), nil
		},
	}
}

// Config configures backend selection.
type Config struct {
	DataDir      string
	ConnectRetry retry.Config
	Backends     Backends
}

// DefaultConfig stores local backends under ./data.
func DefaultConfig() Config {
	return Config{
		DataDir:      "data",
		ConnectRetry: retry.BackendConnectConfig(),
		Backends:     DefaultBackends(),
	}
}

// Store is the tiered state store. Selection happens once in Init; every
// later call goes to the chosen repository.
type Store struct {
	mu      sync.Mutex
	repo    repository.StateRepository
	cfg     Config
	metrics *Metrics
	logger  *slog.Logger
}

// NewStore creates a store that has not selected a backend yet. A nil logger
// selects slog.Default().
func NewStore(cfg Config, metrics *Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "state")),
	}
}

// Init selects the backend. connectionString may be empty; otherwise its
// scheme picks the networked backend, which is tried with bounded retries
// before falling through to the local ones. Calling Init again is a no-op.
func (s *Store) Init(ctx context.Context, connectionString string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		s.logger.Debug("state store already initialized", slog.String("backend", s.repo.Name()))
		return nil
	}

	if connectionString != "" {
		repo, err := s.connectNetworked(ctx, connectionString)
		if err == nil {
			s.use(repo)
			return nil
		}
		s.logger.Warn("networked state backend unavailable, falling back to local storage",
			slog.String("scheme", scheme(connectionString)),
			slog.Any("error", err))
	}

	var errs []error
	if open := s.cfg.Backends.Embedded; open != nil {
		repo, err := open(ctx, s.cfg.DataDir)
		if err == nil {
			s.use(repo)
			return nil
		}
		errs = append(errs, fmt.Errorf("embedded: %w", err))
		s.logger.Warn("embedded state backend unavailable, falling back to JSON file",
			slog.String("data_dir", s.cfg.DataDir),
			slog.Any("error", err))
	}

	if open := s.cfg.Backends.File; open != nil {
		repo, err := open(s.cfg.DataDir)
		if err == nil {
			s.use(repo)
			return nil
		}
		errs = append(errs, fmt.Errorf("file: %w", err))
	}

	err := fmt.Errorf("no state backend available: %w", errors.Join(errs...))
	s.logger.Error("state persistence disabled", slog.Any("error", err))
	return err
}

func (s *Store) connectNetworked(ctx context.Context, connectionString string) (repository.StateRepository, error) {
	var connect func(ctx context.Context, url string) (repository.StateRepository, error)
	switch {
	case redis.IsRedisURL(connectionString):
		connect = s.cfg.Backends.Redis
	case strings.HasPrefix(connectionString, "postgres://"), strings.HasPrefix(connectionString, "postgresql://"):
		connect = s.cfg.Backends.Postgres
	}
	if connect == nil {
		return nil, fmt.Errorf("unsupported connection scheme %q", scheme(connectionString))
	}

	var repo repository.StateRepository
	err := retry.WithBackoff(ctx, s.cfg.ConnectRetry, func() error {
		r, err := connect(ctx, connectionString)
		if err != nil {
			return err
		}
		repo = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *Store) use(repo repository.StateRepository) {
	s.repo = repo
	s.metrics.setBackend(repo.Name())
	s.logger.Info("state backend selected", slog.String("backend", repo.Name()))
}

func (s *Store) current() repository.StateRepository {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo
}

// SaveState replaces the persisted document with snapshot. Failures are
// logged and reported as false.
func (s *Store) SaveState(ctx context.Context, snapshot Snapshot) bool {
	repo := s.current()
	if repo == nil {
		s.logger.Warn("state not saved", slog.Any("error", ErrNotInitialized))
		return false
	}
	if snapshot == nil {
		snapshot = Snapshot{}
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.metrics.recordSave(repo.Name(), "failure", 0)
		s.logger.Error("state not serializable", slog.Any("error", err))
		return false
	}

	if err := repo.Save(ctx, payload); err != nil {
		if circuitbreaker.IsRejected(err) {
			s.metrics.recordSave(repo.Name(), "rejected", 0)
			s.logger.Warn("state backend circuit open, save skipped",
				slog.String("backend", repo.Name()))
			return false
		}
		s.metrics.recordSave(repo.Name(), "failure", 0)
		s.logger.Error("failed to save state",
			slog.String("backend", repo.Name()),
			slog.Any("error", err))
		return false
	}

	s.metrics.recordSave(repo.Name(), "success", len(payload))
	s.logger.Debug("state saved",
		slog.String("backend", repo.Name()),
		slog.Int("bytes", len(payload)))
	return true
}

// LoadState returns the persisted document, or an empty one when nothing was
// saved yet or it cannot be read.
func (s *Store) LoadState(ctx context.Context) Snapshot {
	repo := s.current()
	if repo == nil {
		s.logger.Warn("state not loaded", slog.Any("error", ErrNotInitialized))
		return Snapshot{}
	}

	payload, err := repo.Load(ctx)
	if errors.Is(err, repository.ErrStateNotFound) {
		s.metrics.recordLoad(repo.Name(), "empty")
		s.logger.Info("no saved state, starting empty", slog.String("backend", repo.Name()))
		return Snapshot{}
	}
	if circuitbreaker.IsRejected(err) {
		s.metrics.recordLoad(repo.Name(), "rejected")
		s.logger.Warn("state backend circuit open, starting empty",
			slog.String("backend", repo.Name()))
		return Snapshot{}
	}
	if err != nil {
		s.metrics.recordLoad(repo.Name(), "error")
		s.logger.Error("failed to load state",
			slog.String("backend", repo.Name()),
			slog.Any("error", err))
		return Snapshot{}
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		s.metrics.recordLoad(repo.Name(), "corrupt")
		s.logger.Error("saved state is corrupt, starting empty",
			slog.String("backend", repo.Name()),
			slog.Any("error", err))
		return Snapshot{}
	}
	if snapshot == nil {
		snapshot = Snapshot{}
	}

	s.metrics.recordLoad(repo.Name(), "loaded")
	return snapshot
}

// Backend names the selected backend, or "none" before Init.
func (s *Store) Backend() string {
	if repo := s.current(); repo != nil {
		return repo.Name()
	}
	return "none"
}

// Close releases the backend. The store can be initialized again afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	repo := s.repo
	s.repo = nil
	s.mu.Unlock()

	if repo == nil {
		return nil
	}
	if err := repo.Close(); err != nil {
		return fmt.Errorf("close %s state backend: %w", repo.Name(), err)
	}
	return nil
}

// scheme returns the URL scheme without exposing credentials in logs.
func scheme(connectionString string) string {
	if i := strings.Index(connectionString, "://"); i > 0 {
		return connectionString[:i]
	}
	return "unknown"
}
