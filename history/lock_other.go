//go:build !unix

package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirLock is an advisory lock on an output directory.
type DirLock struct {
	path string
}

// LockDir creates dir/LockFile exclusively. A stale lock file left by a
// crashed process must be removed by hand.
func LockDir(dir string) (*DirLock, error) {
	path := filepath.Join(dir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return &DirLock{path: path}, nil
}

// Unlock releases the lock.
func (l *DirLock) Unlock() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	return err
}
