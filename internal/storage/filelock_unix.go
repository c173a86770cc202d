//go:build unix

package storage

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock holds an OS advisory lock on a lock file next to the protected
// path. Multiple writers in this or other processes coordinate through it;
// readers are unaffected.
type FileLock struct {
	f *os.File
}

// AcquireFileLock blocks until the advisory lock on path+".lock" is held.
func AcquireFileLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &FileLock{f: f}, nil
}

// Release drops the lock.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	return closeErr
}
