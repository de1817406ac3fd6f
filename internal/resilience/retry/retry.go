// Package retry provides exponential backoff, Retry-After parsing and
// retryable error classification for outbound calls and backend connects.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Config controls WithBackoff. The delay before retry n (1-based) is
// InitialDelay * Multiplier^(n-1), capped at MaxDelay, plus up to
// JitterFraction of itself.
type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64

	// Retryable classifies errors. Default: IsRetryable.
	Retryable func(error) bool

	// Logger receives one line per failed attempt. Default: slog.Default().
	Logger *slog.Logger
}

// BackendConnectConfig is the bounded retry used when connecting to a
// networked state backend: three attempts, 200ms then 400ms, capped at 1s.
// Every error except context cancellation is retried; driver dial errors are
// rarely classified as timeouts.
func BackendConnectConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		Retryable: func(err error) bool {
			return err != nil && !isContextErr(err)
		},
	}
}

// ErrAttemptsExhausted wraps the last error once MaxAttempts calls failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// WithBackoff calls fn until it succeeds, returns a non-retryable error, ctx
// ends, or MaxAttempts calls were made.
func WithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := max(cfg.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := cfg.delay(attempt)
		logger.Warn("attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, ctx.Err())
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, err)
}

func (c Config) delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return addJitter(time.Duration(d), c.JitterFraction)
}

// Backoff returns base * 2^attempt, where attempt 0 is the first retry.
func Backoff(base time.Duration, attempt int) time.Duration {
	// 2^30 already exceeds any sane base; avoid overflowing the shift.
	attempt = min(max(attempt, 0), 30)
	return base << uint(attempt)
}

// ParseRetryAfter interprets a Retry-After header value, which is either a
// number of seconds or an HTTP-date. The second result is false when the
// header is empty or malformed. Dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	return max(at.Sub(now), 0), true
}

// IsRetryable reports whether err is transient: a network timeout, a
// refused/reset/unreachable connection, or a retryable *HTTPError.
// Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || isContextErr(err) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.ENETUNREACH} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// HTTPError is a non-2xx response from an upstream API.
type HTTPError struct {
	StatusCode int
	Message    string

	// RetryAfter is the server-requested delay, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is 5xx, 429 or 408.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

func addJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	fraction = min(fraction, 1)
	// #nosec G404 -- jitter does not need a CSPRNG
	return d + time.Duration(rand.Float64()*float64(d)*fraction)
}
