package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guildkeeper/internal/observability/tracing"
)

// HealthServer exposes probes, metrics and the job list over HTTP:
//   - /health: liveness (always 200)
//   - /health/ready: readiness (200 once SetReady(true), 503 before)
//   - /jobs: registered scheduler jobs
//   - /metrics: Prometheus metrics from the given gatherer
//   - /stats/{name}: JSON views registered with WithStats
//
// Start blocks until ctx is cancelled and then shuts down gracefully.
type HealthServer struct {
	addr      string
	logger    *slog.Logger
	isReady   *atomic.Bool
	gatherer  prometheus.Gatherer
	scheduler *Scheduler
	stats     map[string]StatsFunc
	server    *http.Server
}

// StatsFunc returns a JSON-encodable view of a component.
type StatsFunc func(ctx context.Context) any

type healthResponse struct {
	Status string `json:"status"`
}

// HealthOption configures a HealthServer.
type HealthOption func(*HealthServer)

// WithGatherer serves /metrics from g.
func WithGatherer(g prometheus.Gatherer) HealthOption {
	return func(h *HealthServer) { h.gatherer = g }
}

// WithScheduler serves the job list of s on /jobs.
func WithScheduler(s *Scheduler) HealthOption {
	return func(h *HealthServer) { h.scheduler = s }
}

// WithStats serves fn on /stats/{name}.
func WithStats(name string, fn StatsFunc) HealthOption {
	return func(h *HealthServer) { h.stats[name] = fn }
}

// NewHealthServer creates a health server listening on addr. It is not ready
// until SetReady(true).
func NewHealthServer(addr string, logger *slog.Logger, opts ...HealthOption) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HealthServer{
		addr:     addr,
		logger:   logger,
		isReady:  &atomic.Bool{},
		gatherer: prometheus.DefaultGatherer,
		stats:    make(map[string]StatsFunc),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns the server's routes wrapped in the tracing middleware.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleLiveness)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	mux.HandleFunc("/jobs", h.handleJobs)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	for name, fn := range h.stats {
		mux.HandleFunc("/stats/"+name, func(w http.ResponseWriter, r *http.Request) {
			h.writeJSON(w, http.StatusOK, fn(r.Context()))
		})
	}
	return tracing.Middleware(mux)
}

// Start listens on the configured address and serves until ctx is done.
// It returns http.ErrServerClosed after a graceful shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		h.logger.Error("health server failed to listen", slog.String("addr", h.addr), slog.Any("error", err))
		return err
	}
	return h.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (h *HealthServer) Serve(ctx context.Context, ln net.Listener) error {
	h.server = &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", ln.Addr().String()))
		errChan <- h.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Info("health server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("health server failed", slog.Any("error", err))
		}
		return err
	}
}

// SetReady changes the /health/ready response.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.isReady.Load() {
		h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
}

func (h *HealthServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []JobInfo{}
	if h.scheduler != nil {
		jobs = h.scheduler.List()
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

func (h *HealthServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
