package circuitbreaker

import (
	"bytes"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("connection refused")

func fail() (int, error) { return 0, errBackend }
func succeed() (int, error) { return 42, nil }

func TestStateBackendConfig_OpensAfterThreeFailures(t *testing.T) {
	cb := New(StateBackendConfig("state-test"))

	for i := 0; i < 3; i++ {
		_, err := Do(cb, fail)
		require.ErrorIs(t, err, errBackend)
		assert.False(t, IsRejected(err))
	}

	assert.True(t, cb.IsOpen())
	calls := 0
	_, err := Do(cb, func() (int, error) { calls++; return 1, nil })
	assert.True(t, IsRejected(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Zero(t, calls, "open circuit must not call through")
}

func TestStateBackendConfig_SuccessKeepsCircuitClosed(t *testing.T) {
	cb := New(StateBackendConfig("state-test"))

	// 100% threshold: one success in the window keeps it closed.
	_, _ = Do(cb, succeed)
	for i := 0; i < 5; i++ {
		_, _ = Do(cb, fail)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestRemoteCacheConfig_TripsOnRatio(t *testing.T) {
	cfg := RemoteCacheConfig()
	assert.Equal(t, "remote-cache", cfg.Name)
	cb := New(cfg)

	// Below MinRequests the ratio is not evaluated.
	_, _ = Do(cb, succeed)
	for i := 0; i < 3; i++ {
		_, _ = Do(cb, fail)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	// 4 of 5 failed, above the 50% threshold.
	_, _ = Do(cb, fail)
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := StateBackendConfig("recovering")
	cfg.Timeout = 20 * time.Millisecond
	cb := New(cfg)

	for i := 0; i < 3; i++ {
		_, _ = Do(cb, fail)
	}
	require.True(t, cb.IsOpen())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	v, err := Do(cb, succeed)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_LogsTransitions(t *testing.T) {
	var buf bytes.Buffer
	cfg := StateBackendConfig("logged")
	cfg.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	cb := New(cfg)

	for i := 0; i < 3; i++ {
		_, _ = Do(cb, fail)
	}

	assert.Contains(t, buf.String(), `"circuit":"logged"`)
	assert.Contains(t, buf.String(), `"to":"open"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestDo_NilInterfaceResult(t *testing.T) {
	cb := New(StateBackendConfig("nil"))

	res, err := Do(cb, func() (sql.Result, error) { return nil, nil })
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestExecute(t *testing.T) {
	cb := New(StateBackendConfig("execute"))
	assert.Equal(t, "execute", cb.Name())

	res, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
}

func TestIsRejected(t *testing.T) {
	assert.True(t, IsRejected(gobreaker.ErrOpenState))
	assert.True(t, IsRejected(gobreaker.ErrTooManyRequests))
	assert.False(t, IsRejected(errBackend))
	assert.False(t, IsRejected(nil))
}
