//go:build windows

package fsutil

import "os"

// File locks are no-ops on Windows; callers still serialize within the
// process with their own mutex.
func LockFile(_ *os.File) error   { return nil }
func RLockFile(_ *os.File) error  { return nil }
func UnlockFile(_ *os.File) error { return nil }
