package fsutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StaleLockAge is how old a lock file may get before it is considered
// abandoned by a crashed process and removed.
const StaleLockAge = 30 * time.Second

const lockRetryInterval = 10 * time.Millisecond

// Lock acquires a file-based lock at path. It blocks until the lock is
// acquired or ctx is done, and returns the unlock function.
func Lock(ctx context.Context, path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for {
		// Try to create lock file atomically
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() {
				os.Remove(path)
			}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > StaleLockAge {
			os.Remove(path)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", path, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}
