package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"guildkeeper/internal/observability/logging"
)

// Dependencies of the maintenance jobs. Each is optional; a nil dependency
// leaves its job unregistered.
type (
	CacheCleaner interface {
		Cleanup() int
	}
	StatePersister interface {
		// Persist writes the current state; false means the write failed.
		Persist(ctx context.Context) bool
	}
	RateLimitSweeper interface {
		Cleanup(ctx context.Context) error
	}
	LogMaintainer interface {
		RotateLogs() (bool, error)
		CleanOldLogs(maxAge time.Duration) (int, error)
	}
)

// PersistFunc adapts a function to StatePersister.
type PersistFunc func(ctx context.Context) bool

func (f PersistFunc) Persist(ctx context.Context) bool { return f(ctx) }

// ErrStateNotSaved is returned by the autosave job when the store rejected the snapshot.
var ErrStateNotSaved = errors.New("state snapshot not saved")

// JobDeps bundles the components the default jobs maintain.
type JobDeps struct {
	Cache   CacheCleaner
	State   StatePersister
	Limiter RateLimitSweeper
	Logs    LogMaintainer
}

// RegisterDefaultJobs registers the periodic maintenance jobs with the
// intervals from cfg. Handlers log through the run logger in their context.
func RegisterDefaultJobs(s *Scheduler, cfg *WorkerConfig, deps JobDeps) error {
	type spec struct {
		name     string
		interval time.Duration
		handler  JobFunc
	}
	var jobs []spec

	if deps.Cache != nil {
		jobs = append(jobs, spec{"cache-cleanup", cfg.CacheCleanupInterval, func(ctx context.Context) error {
			if removed := deps.Cache.Cleanup(); removed > 0 {
				logging.FromContext(ctx).Debug("expired cache entries removed", slog.Int("removed", removed))
			}
			return nil
		}})
	}
	if deps.State != nil {
		jobs = append(jobs, spec{"state-autosave", cfg.StateAutosaveInterval, func(ctx context.Context) error {
			if !deps.State.Persist(ctx) {
				return ErrStateNotSaved
			}
			return nil
		}})
	}
	if deps.Limiter != nil {
		jobs = append(jobs, spec{"ratelimit-sweep", cfg.RateLimitSweepInterval, deps.Limiter.Cleanup})
	}
	if deps.Logs != nil {
		jobs = append(jobs,
			spec{"log-rotation", cfg.LogRotationInterval, func(ctx context.Context) error {
				rotated, err := deps.Logs.RotateLogs()
				if err != nil {
					return fmt.Errorf("rotate logs: %w", err)
				}
				if rotated {
					logging.FromContext(ctx).Info("log file rotated")
				}
				return nil
			}},
			spec{"log-cleanup", cfg.LogCleanupInterval, func(ctx context.Context) error {
				removed, err := deps.Logs.CleanOldLogs(cfg.LogMaxAge)
				if err != nil {
					return fmt.Errorf("clean old logs: %w", err)
				}
				if removed > 0 {
					logging.FromContext(ctx).Info("old log files removed", slog.Int("removed", removed))
				}
				return nil
			}},
		)
	}

	for _, j := range jobs {
		if err := s.Register(j.name, j.handler, j.interval, false); err != nil {
			return err
		}
	}
	return nil
}
