package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{input: "", expected: slog.LevelInfo},
		{input: "debug", expected: slog.LevelDebug},
		{input: "DEBUG", expected: slog.LevelDebug},
		{input: "warn", expected: slog.LevelWarn},
		{input: "warning", expected: slog.LevelWarn},
		{input: "error", expected: slog.LevelError},
		{input: "invalid", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestNewLogger_JSONStructure(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info")

	logger.Debug("this should not appear")
	logger.Info("state saved", "backend", "redis", "keys", 3)

	output := buf.String()
	assert.NotContains(t, output, "this should not appear", "debug message should be filtered")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "output should be valid JSON")
	assert.Equal(t, "state saved", logEntry["msg"])
	assert.Equal(t, "INFO", logEntry["level"])
	assert.Equal(t, "guildkeeper", logEntry["service"])
	assert.Equal(t, "redis", logEntry["backend"])
	assert.Equal(t, float64(3), logEntry["keys"])
	assert.NotEmpty(t, logEntry["time"])
}

func TestNew_WithFileSink(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer

	logger, rotator, err := New(Options{Level: "debug", Dir: dir, Stdout: &stdout})
	require.NoError(t, err)
	require.NotNil(t, rotator)
	defer func() { _ = rotator.Close() }()

	logger.Debug("cache cleanup finished", "removed", 4)

	assert.Contains(t, stdout.String(), "cache cleanup finished")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "cache cleanup finished")
}

func TestNew_UnwritableDirFallsBackToStdout(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	var stdout bytes.Buffer

	logger, rotator, err := New(Options{Dir: filepath.Join(blocker, "logs"), Stdout: &stdout})
	require.Error(t, err)
	assert.Nil(t, rotator)
	require.NotNil(t, logger)

	logger.Info("still logging")
	assert.Contains(t, stdout.String(), "still logging")
}

func TestNew_WithoutDir(t *testing.T) {
	var stdout bytes.Buffer

	logger, rotator, err := New(Options{Stdout: &stdout})
	require.NoError(t, err)
	assert.Nil(t, rotator)
	assert.NoError(t, rotator.Close(), "nil rotator closes cleanly")

	logger.Info("hello")
	assert.Contains(t, stdout.String(), "hello")
}

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := ContextWithRunID(context.Background(), "550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", RunIDFromContext(ctx))

	WithRunID(ctx, base).Info("job finished")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", logEntry["run_id"])
}

func TestWithRunID_EmptyRunID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	logger := WithRunID(context.Background(), base)
	logger.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.NotContains(t, buf.String(), "run_id", "should not contain run_id field")
}

func TestFromContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()), "should be default logger")

	ctx := context.WithValue(context.Background(), loggerContextKey, "not a logger")
	assert.Equal(t, slog.Default(), FromContext(ctx), "should be default logger")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	FromContext(WithLogger(context.Background(), logger)).Info("test message")
	assert.Contains(t, buf.String(), "test message", "should use the same logger")
}

func TestLogger_MultipleLogEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info")

	logger.Info("first message")
	logger.Warn("second message")
	logger.Error("third message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, 3, len(lines), "should have 3 log entries")

	for i, line := range lines {
		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &logEntry), "line %d should be valid JSON", i+1)
		assert.NotEmpty(t, logEntry["msg"])
	}
}

func BenchmarkLogger_Info(b *testing.B) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message")
	}
}
