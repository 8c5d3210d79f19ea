// Package logging assembles the structured logger for the failover manager:
// output selection, size-based file rotation, and a runtime-adjustable level
// shared with the config hot-reloader.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is an io.WriteCloser that rotates its file by size using a
// numbered backup cascade: file.1 is the most recent backup, file.<maxBackups>
// the oldest. Rotation and pruning happen synchronously inside Write, so a
// successful Write means the cascade is already consistent on disk.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       int64
	maxBytes   int64
	maxBackups int
}

// NewRotatingWriter opens the log file, creating parent directories as
// needed. The file rotates when a write would push it past maxSizeMB; at most
// maxBackups rotated files are kept. maxBackups of 0 truncates in place.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	rw := &RotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first when the write would exceed the
// size limit. A single record larger than the limit is still written whole.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file != nil {
		return rw.file.Close()
	}
	return nil
}

// rotate shifts the backup cascade up by one slot and reopens a fresh file.
// Must be called with rw.mu held.
func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		rw.file.Close()
		rw.file = nil
	}

	if rw.maxBackups == 0 {
		if err := os.Truncate(rw.path, 0); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncating log file: %w", err)
		}
		return rw.open()
	}

	os.Remove(backupName(rw.path, rw.maxBackups)) //nolint:errcheck
	for i := rw.maxBackups - 1; i >= 1; i-- {
		os.Rename(backupName(rw.path, i), backupName(rw.path, i+1)) //nolint:errcheck
	}
	if err := os.Rename(rw.path, backupName(rw.path, 1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotating log file: %w", err)
	}

	return rw.open()
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
