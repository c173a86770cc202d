//go:build !unix

package storage

import (
	"fmt"
	"os"
)

// FileLock degrades to a plain marker file on platforms without flock; the
// single-process assumption still holds there.
type FileLock struct {
	f *os.File
}

// AcquireFileLock opens the lock file without an OS-level lock.
func AcquireFileLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &FileLock{f: f}, nil
}

// Release closes the lock file.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
