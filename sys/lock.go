package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when another process holds the directory lock.
var ErrLocked = errors.New("directory is locked by another process")

// DirLock is an exclusive advisory lock on a directory, held through a lock
// file inside it. The lock file records the owner's pid for diagnostics.
type DirLock struct {
	path    string
	release func() error
}

// AcquireDirLock locks dir by taking an OS level lock on dir/name, waiting up
// to timeout. The directory is created if needed.
func AcquireDirLock(dir, name string, timeout time.Duration) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	lockPath := filepath.Join(dir, name)
	release, err := AcquireOSFileLock(lockPath, timeout)
	if err != nil {
		if errors.Is(err, ErrOSFileLockNotSupported) {
			return nil, err
		}
		owner := readLockOwner(lockPath)
		if owner != "" {
			return nil, fmt.Errorf("%w: %s (pid %s): %v", ErrLocked, dir, owner, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLocked, dir, err)
	}
	_ = os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
	return &DirLock{path: lockPath, release: release}, nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// Release unlocks the directory and removes the lock file. Calling it more
// than once is harmless.
func (l *DirLock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	rel := l.release
	l.release = nil
	return rel()
}

func readLockOwner(lockPath string) string {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
