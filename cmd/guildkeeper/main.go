package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"guildkeeper/internal/config"
	"guildkeeper/internal/infra/adapter/persistence/redis"
	"guildkeeper/internal/infra/fetcher"
	workerPkg "guildkeeper/internal/infra/worker"
	"guildkeeper/internal/observability/logging"
	pkgconfig "guildkeeper/internal/pkg/config"
	"guildkeeper/internal/usecase/cache"
	"guildkeeper/internal/usecase/state"
	"guildkeeper/pkg/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("guildkeeper exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Config is loaded with the default logger first; the real logger depends on it.
	appConfig := config.LoadAppConfig(slog.Default(), pkgconfig.NewConfigMetrics(registry, "app"))

	logger, rotator, err := logging.New(logging.Options{Level: appConfig.LogLevel, Dir: appConfig.LogDir})
	slog.SetDefault(logger)
	if err != nil {
		logger.Warn("file logging disabled, logging to stdout only",
			slog.String("log_dir", appConfig.LogDir),
			slog.Any("error", err))
	}
	if rotator != nil {
		defer func() {
			if err := rotator.Close(); err != nil {
				slog.Error("failed to close log file", slog.Any("error", err))
			}
		}()
	}

	resilience := loadResilienceConfig(logger, appConfig.ResilienceFile)
	workerConfig := workerPkg.LoadConfigFromEnv(logger, pkgconfig.NewConfigMetrics(registry, "worker"))

	limiterConfig := ratelimit.DefaultLimiterConfig()
	limiterConfig.Domains = resilience.DomainConfigs()
	limiter, err := ratelimit.NewDomainLimiter(limiterConfig, ratelimit.NewPrometheusMetrics(registry), logger)
	if err != nil {
		return err
	}

	client := fetcher.NewClient(fetcher.LoadConfigFromEnv(logger), limiter,
		fetcher.WithMetrics(fetcher.NewMetrics(registry)),
		fetcher.WithLogger(logger))

	stateConfig := state.DefaultConfig()
	stateConfig.DataDir = appConfig.DataDir
	store := state.NewStore(stateConfig, state.NewMetrics(registry), logger)
	if err := store.Init(ctx, appConfig.StateURL); err != nil {
		// Saves report false and loads return an empty document from here on.
		logger.Error("continuing without state persistence", slog.Any("error", err))
	}
	appState := state.NewAppState(store.LoadState(ctx))
	logger.Info("application state loaded",
		slog.String("backend", store.Backend()),
		slog.Int("keys", len(appState.Keys())))

	readThrough := newCache(ctx, logger, appConfig, resilience, registry)

	scheduler := workerPkg.NewScheduler(workerConfig.JobTimeout, workerPkg.NewWorkerMetrics(registry), logger)
	scheduler.Start(ctx)
	deps := workerPkg.JobDeps{
		Cache: readThrough,
		State: workerPkg.PersistFunc(func(ctx context.Context) bool {
			return appState.Persist(ctx, store, true)
		}),
		Limiter: limiter,
	}
	if rotator != nil {
		deps.Logs = rotator
	}
	if err := workerPkg.RegisterDefaultJobs(scheduler, workerConfig, deps); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	healthServer := workerPkg.NewHealthServer(workerConfig.HealthAddr(), logger,
		workerPkg.WithGatherer(registry),
		workerPkg.WithScheduler(scheduler),
		workerPkg.WithStats("cache", func(context.Context) any { return readThrough.Stats() }),
		workerPkg.WithStats("ratelimit", func(ctx context.Context) any { return client.Stats(ctx) }),
		workerPkg.WithStats("state", func(context.Context) any {
			return map[string]any{"backend": store.Backend(), "keys": appState.Keys()}
		}))
	healthDone := make(chan struct{})
	go func() {
		defer close(healthDone)
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	healthServer.SetReady(true)

	logger.Info("guildkeeper started",
		slog.String("state_backend", store.Backend()),
		slog.String("cache_backend", readThrough.Backend()),
		slog.Int("jobs", len(scheduler.List())))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	healthServer.SetReady(false)

	scheduler.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if !appState.Persist(shutdownCtx, store, false) {
		logger.Warn("final state save failed")
	}

	var g errgroup.Group
	g.Go(readThrough.Close)
	g.Go(store.Close)
	err = g.Wait()

	<-healthDone
	logger.Info("guildkeeper stopped")
	return err
}

func loadResilienceConfig(logger *slog.Logger, path string) *config.ResilienceConfig {
	if path == "" {
		return nil
	}
	cfg, err := config.LoadResilienceConfig(path)
	if err != nil {
		logger.Warn("resilience config ignored, using built-in defaults",
			slog.String("path", path),
			slog.Any("error", err))
		return nil
	}
	logger.Info("resilience config loaded",
		slog.String("path", path),
		slog.Int("domains", len(cfg.Domains)))
	return cfg
}

func newCache(ctx context.Context, logger *slog.Logger, appConfig config.AppConfig, resilience *config.ResilienceConfig, reg prometheus.Registerer) *cache.ReadThroughCache {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.DefaultTTL = appConfig.CacheDefaultTTL
	if resilience != nil {
		if resilience.Cache.DefaultTTL > 0 {
			cacheConfig.DefaultTTL = resilience.Cache.DefaultTTL
		}
		cacheConfig = cacheConfig.WithOverrides(resilience.Cache.PrefixTTLs)
	}

	opts := []cache.Option{
		cache.WithMetrics(cache.NewMetrics(reg)),
		cache.WithLogger(logger),
	}
	if appConfig.CacheURL != "" {
		remote, err := redis.ConnectCache(ctx, appConfig.CacheURL)
		if err != nil {
			logger.Warn("remote cache unavailable, using memory only", slog.Any("error", err))
		} else {
			opts = append(opts, cache.WithRemote(remote))
		}
	}
	return cache.New(cacheConfig, opts...)
}
