package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// LogFileName is the active log file inside the log directory.
	LogFileName = "app.log"

	// DefaultMaxSize is the size at which RotateLogs shifts the active file.
	DefaultMaxSize = 5 * 1024 * 1024

	// DefaultMaxFiles counts the active file plus rotated app.N.log files.
	DefaultMaxFiles = 7
)

// Rotator is an io.Writer over <dir>/app.log that supports size-based
// rotation (app.log -> app.1.log -> ... -> app.6.log) and age-based cleanup.
// Rotation is driven externally by a scheduled job rather than on write.
type Rotator struct {
	mu       sync.Mutex
	dir      string
	file     *os.File
	maxSize  int64
	maxFiles int
	now      func() time.Time
}

// NewRotator creates dir if needed and opens app.log for appending.
func NewRotator(dir string) (*Rotator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}

	r := &Rotator{
		dir:      dir,
		maxSize:  DefaultMaxSize,
		maxFiles: DefaultMaxFiles,
		now:      time.Now,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the active log file path.
func (r *Rotator) Path() string {
	return filepath.Join(r.dir, LogFileName)
}

func (r *Rotator) open() error {
	f, err := os.OpenFile(r.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.Path(), err)
	}
	r.file = f
	return nil
}

// Write appends p to the active file.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	return r.file.Write(p)
}

// RotateLogs shifts the active file once it reaches the size threshold.
// The oldest rotated file is deleted so at most maxFiles files remain.
// It reports whether a rotation happened.
func (r *Rotator) RotateLogs() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return false, os.ErrClosed
	}

	info, err := r.file.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", r.Path(), err)
	}
	if info.Size() < r.maxSize {
		return false, nil
	}

	for i := r.maxFiles - 1; i >= 1; i-- {
		from := r.rotatedPath(i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if i+1 >= r.maxFiles {
			if err := os.Remove(from); err != nil {
				return false, fmt.Errorf("remove %s: %w", from, err)
			}
			continue
		}
		if err := os.Rename(from, r.rotatedPath(i+1)); err != nil {
			return false, fmt.Errorf("shift %s: %w", from, err)
		}
	}

	if err := r.file.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", r.Path(), err)
	}
	r.file = nil

	if err := os.Rename(r.Path(), r.rotatedPath(1)); err != nil {
		_ = r.open()
		return false, fmt.Errorf("rotate %s: %w", r.Path(), err)
	}
	if err := r.open(); err != nil {
		return true, err
	}
	return true, nil
}

// CleanOldLogs deletes *.log files in the directory whose modification time
// is older than maxAge. The active file is never removed.
func (r *Rotator) CleanOldLogs(maxAge time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("read log dir: %w", err)
	}

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".log") || name == LogFileName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(r.dir, name)); err != nil {
				return removed, fmt.Errorf("remove %s: %w", name, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Close closes the active file. A nil Rotator is a no-op.
func (r *Rotator) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *Rotator) rotatedPath(n int) string {
	base := strings.TrimSuffix(LogFileName, filepath.Ext(LogFileName))
	return filepath.Join(r.dir, fmt.Sprintf("%s.%d.log", base, n))
}
