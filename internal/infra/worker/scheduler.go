package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"guildkeeper/internal/observability/logging"
)

var (
	// ErrDuplicateJob is returned when a job name is already registered.
	ErrDuplicateJob = errors.New("job already registered")
	// ErrInvalidJob is returned for an empty name, nil handler or non-positive interval.
	ErrInvalidJob = errors.New("invalid job")
)

// JobFunc is one run of a periodic job. The context carries the run ID and
// is cancelled when the run exceeds the scheduler's job timeout.
type JobFunc func(ctx context.Context) error

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Every    string        `json:"every"`
}

type job struct {
	name     string
	interval time.Duration
	handler  JobFunc
	entryID  cron.EntryID
}

// every fires at a fixed interval from the previous activation. Unlike
// cron.Every it keeps sub-second precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Scheduler runs named periodic jobs on a robfig/cron engine.
//
// Each run is isolated: a returned error or a panic is logged and counted,
// and neither stops the job's next run nor affects other jobs. A run that is
// still going when its next activation arrives is skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*job
	running bool
	baseCtx context.Context

	timeout time.Duration
	metrics *WorkerMetrics
	logger  *slog.Logger

	// inflight tracks runImmediately runs, which are started outside cron.
	inflight sync.WaitGroup
}

// NewScheduler creates an empty scheduler. A non-positive timeout selects
// DefaultConfig().JobTimeout; nil metrics records nothing.
func NewScheduler(timeout time.Duration, metrics *WorkerMetrics, logger *slog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultConfig().JobTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))

	return &Scheduler{
		cron:    newCron(logger),
		jobs:    make(map[string]*job),
		baseCtx: context.Background(),
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

func newCron(logger *slog.Logger) *cron.Cron {
	return cron.New(cron.WithLogger(cronLogger{logger: logger}))
}

// Register adds a job that runs every interval, starting now. With
// runImmediately the handler also runs once right away, in the background;
// a tick that arrives while that run is still going is skipped.
func (s *Scheduler) Register(name string, handler JobFunc, interval time.Duration, runImmediately bool) error {
	if name == "" || handler == nil || interval <= 0 {
		return fmt.Errorf("%w: name=%q interval=%v", ErrInvalidJob, name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	j := &job{name: name, interval: interval, handler: handler}
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})).
		Then(cron.FuncJob(func() { s.run(j) }))
	s.startLocked()
	j.entryID = s.cron.Schedule(every(interval), wrapped)
	s.jobs[name] = j
	s.metrics.SetJobsRegistered(len(s.jobs))

	s.logger.Info("job registered",
		slog.String("job", name),
		slog.String("every", FormatInterval(interval)))

	if runImmediately {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			wrapped.Run()
		}()
	}
	return nil
}

// Start sets the context later runs derive from, so cancelling ctx cancels
// them. Jobs fire from Register on; until Start they run under
// context.Background().
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseCtx = ctx
	s.startLocked()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
}

func (s *Scheduler) startLocked() {
	if !s.running {
		s.cron.Start()
		s.running = true
	}
}

// List returns the registered jobs sorted by name.
func (s *Scheduler) List() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{
			Name:     j.name,
			Interval: j.interval,
			Every:    FormatInterval(j.interval),
		})
	}
	sort.Slice(infos, func(a, b int) bool { return infos[a].Name < infos[b].Name })
	return infos
}

// StopAll cancels every timer, empties the registry and waits for runs in
// progress to finish. Jobs registered afterwards fire as usual, under the
// same base context.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	old := s.cron
	count := len(s.jobs)
	for _, j := range s.jobs {
		old.Remove(j.entryID)
	}
	s.jobs = make(map[string]*job)
	s.cron = newCron(s.logger)
	s.running = false
	s.metrics.SetJobsRegistered(0)
	s.mu.Unlock()

	<-old.Stop().Done()
	s.inflight.Wait()

	s.logger.Info("all jobs stopped", slog.Int("jobs", count))
}

func (s *Scheduler) run(j *job) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(logging.ContextWithRunID(base, uuid.NewString()), s.timeout)
	defer cancel()

	logger := logging.WithRunID(ctx, s.logger).With(slog.String("job", j.name))
	ctx = logging.WithLogger(ctx, logger)
	start := time.Now()

	err := safeCall(ctx, j.handler)
	duration := time.Since(start)
	s.metrics.RecordJobDuration(j.name, duration)

	if err != nil {
		s.metrics.RecordJobRun(j.name, "failure")
		logger.Error("job failed",
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return
	}

	s.metrics.RecordJobRun(j.name, "success")
	s.metrics.RecordLastSuccess(j.name)
	logger.Debug("job completed", slog.Duration("duration", duration))
}

// safeCall turns a panic in handler into an error.
func safeCall(ctx context.Context, handler JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx)
}

// FormatInterval renders d in its largest whole-ish unit: "1d", "2h",
// "5min", or milliseconds below a minute.
func FormatInterval(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d >= day:
		return fmt.Sprintf("%dd", roundDiv(d, day))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", roundDiv(d, time.Hour))
	case d >= time.Minute:
		return fmt.Sprintf("%dmin", roundDiv(d, time.Minute))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

func roundDiv(d, unit time.Duration) int64 {
	return int64((d + unit/2) / unit)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
