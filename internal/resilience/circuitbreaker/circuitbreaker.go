// Package circuitbreaker wraps github.com/sony/gobreaker for the networked
// backends (state store, remote cache tier) so an outage fails fast.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Config describes one breaker. The circuit opens once at least MinRequests
// calls were made in the current Interval and the failure ratio reaches
// FailureThreshold. After Timeout it lets MaxRequests probes through.
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32

	// Logger receives state transitions. Default: slog.Default().
	Logger *slog.Logger
}

// StateBackendConfig is used by the networked state backends. Saves run every
// couple of minutes, so three straight failures open the circuit.
func StateBackendConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         5 * time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 1.0,
		MinRequests:      3,
	}
}

// RemoteCacheConfig is used by the optional remote cache tier. It trips on a
// 50% failure ratio and probes again after 15s.
func RemoteCacheConfig() Config {
	return Config{
		Name:             "remote-cache",
		MaxRequests:      2,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 0.5,
		MinRequests:      5,
	}
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a closed breaker from cfg.
func New(cfg Config) *CircuitBreaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CircuitBreaker{
		name: cfg.Name,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.MinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				level := slog.LevelWarn
				if to == gobreaker.StateClosed {
					level = slog.LevelInfo
				}
				logger.Log(context.Background(), level, "circuit breaker state changed",
					slog.String("circuit", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

// Do runs fn through b. While the circuit is open it returns an error for
// which IsRejected is true without calling fn.
func Do[T any](b *CircuitBreaker, fn func() (T, error)) (T, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	// A nil interface result would fail a checked assertion.
	v, _ := result.(T)
	return v, err
}

// Execute runs fn through the breaker.
func (b *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.breaker.Execute(fn)
}

func (b *CircuitBreaker) Name() string { return b.name }

func (b *CircuitBreaker) State() gobreaker.State { return b.breaker.State() }

// IsOpen reports whether calls are currently rejected outright.
func (b *CircuitBreaker) IsOpen() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

// IsRejected reports whether err came from the breaker itself rather than
// from the protected call.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
