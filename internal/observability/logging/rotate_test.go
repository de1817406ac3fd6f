package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotator_RotateLogs_BelowThreshold(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRotator(dir)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Write([]byte("small\n"))
	require.NoError(t, err)

	rotated, err := r.RotateLogs()
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.NoFileExists(t, filepath.Join(dir, "app.1.log"))
}

func TestRotator_RotateLogs_ShiftsFiles(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRotator(dir)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	r.maxSize = 10

	for i := 1; i <= 6; i++ {
		name := filepath.Join(dir, "app."+string(rune('0'+i))+".log")
		require.NoError(t, os.WriteFile(name, []byte(name), 0o644))
	}

	_, err = r.Write([]byte(strings.Repeat("x", 20)))
	require.NoError(t, err)

	rotated, err := r.RotateLogs()
	require.NoError(t, err)
	assert.True(t, rotated)

	// app.6.log (the oldest) was dropped, everything else moved up one slot.
	data, err := os.ReadFile(filepath.Join(dir, "app.1.log"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 20), string(data))

	data, err = os.ReadFile(filepath.Join(dir, "app.6.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app.5.log"), string(data))
	assert.NoFileExists(t, filepath.Join(dir, "app.7.log"))

	// The active file is fresh and still writable.
	_, err = r.Write([]byte("after\n"))
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(data))
}

func TestRotator_CleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRotator(dir)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	old := time.Now().Add(-40 * 24 * time.Hour)
	for _, name := range []string{"app.1.log", "app.2.log", "notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(path, old, old))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.3.log"), []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(dir, LogFileName), old, old))

	removed, err := r.CleanOldLogs(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoFileExists(t, filepath.Join(dir, "app.1.log"))
	assert.FileExists(t, filepath.Join(dir, "app.3.log"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.FileExists(t, filepath.Join(dir, LogFileName), "active file is never removed")
}

func TestRotator_WriteAfterClose(t *testing.T) {
	r, err := NewRotator(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
