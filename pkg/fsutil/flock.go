package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WithLock runs fn while holding an exclusive lock on the sidecar file
// lockPath, which is created if missing. Separate processes calling WithLock
// on the same path run fn one at a time.
func WithLock(lockPath string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("lock mkdir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock %s: %w", lockPath, err)
	}
	defer f.Close()

	if err := LockFile(f); err != nil {
		return fmt.Errorf("flock %s: %w", lockPath, err)
	}
	defer UnlockFile(f)
	return fn()
}
