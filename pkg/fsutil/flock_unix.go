//go:build !windows

package fsutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// LockFile takes an exclusive advisory lock on f, blocking until granted.
func LockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// RLockFile takes a shared advisory lock on f.
func RLockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_SH)
}

// UnlockFile releases a lock taken by LockFile or RLockFile.
func UnlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
