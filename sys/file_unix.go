//go:build !windows

package sys

import (
	"os"
	"time"
)

const (
	renameAttempts      = 1
	renameRetryInterval = 0
)

// unixFile opens files with os.OpenFile directly; unix allows renaming and
// unlinking files that are still open.
type unixFile struct{}

// NewFile returns the platform File implementation.
func NewFile() File {
	return &unixFile{}
}

func (ufo *unixFile) Create(name string) (*os.File, error) {
	return os.Create(name)
}

func (ufo *unixFile) Open(name string) (*os.File, error) {
	return os.Open(name)
}

func (ufo *unixFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (ufo *unixFile) SafeRemove(name string) error {
	var err error
	for i := 0; i < 3; i++ {
		err = os.Remove(name)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		time.Sleep(10 * time.Millisecond * time.Duration(1<<i))
	}
	return err
}

// SyncDir fsyncs a directory so a preceding rename is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
