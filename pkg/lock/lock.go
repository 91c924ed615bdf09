// Package lock provides advisory, cross-process locks keyed by name, backed
// by lock files in one directory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when the lock is still held after the wait timeout.
var ErrLocked = errors.New("lock held by another process")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Dir hands out one lock file per key under a directory.
type Dir struct {
	path string
	// Timeout bounds how long Lock waits. Zero waits until ctx is done.
	Timeout time.Duration
	// RetryDelay is the polling interval while waiting.
	RetryDelay time.Duration
}

// NewDir creates the directory if needed.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create dir %s: %w", path, err)
	}
	return &Dir{path: path, RetryDelay: 200 * time.Millisecond}, nil
}

// Path returns the lock file used for key.
func (d *Dir) Path(key string) string {
	return filepath.Join(d.path, unsafeChars.ReplaceAllString(key, "_")+".lock")
}

// Lock blocks until the lock for key is held, the timeout elapses or ctx is
// done. The returned func releases it.
func (d *Dir) Lock(ctx context.Context, key string) (func() error, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	l := flock.New(d.Path(key))
	locked, err := l.TryLockContext(ctx, d.RetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock: %s: %w", key, ErrLocked)
		}
		return nil, fmt.Errorf("lock: %s: %w", key, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock: %s: %w", key, ErrLocked)
	}
	return l.Unlock, nil
}
