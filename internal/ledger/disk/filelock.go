package disk

import (
	"fmt"
	"os"
)

// fileLock wraps an advisory lock on a dedicated lock file shared by every
// process using the same store root.
type fileLock struct {
	file *os.File
}

func newFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLock{file: f}, nil
}

// Lock blocks until the exclusive lock is held.
func (l *fileLock) Lock() error {
	if l == nil || l.file == nil {
		return fmt.Errorf("disk: lock file not open")
	}
	return lockFile(l.file)
}

// Unlock releases the exclusive lock.
func (l *fileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	return unlockFile(l.file)
}

// Close releases the lock file handle.
func (l *fileLock) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
