package sys

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// fileWrapper is a stable concrete type used to store the File interface
// inside an atomic.Value, which requires the same concrete type on every Store.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // stores fileWrapper

// File abstracts the platform specific way files are opened and removed.
// On Windows files are opened with FILE_SHARE_DELETE so shards can be
// replaced while a reader still holds them.
type File interface {
	Create(name string) (*os.File, error)
	Open(name string) (*os.File, error)
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	SafeRemove(name string) error
}

// FileHandle is the subset of *os.File the shard and manifest code relies on.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker
	io.StringWriter

	Stat() (os.FileInfo, error)
	Sync() error
	Name() string
}

var _ FileHandle = (*os.File)(nil)

func init() {
	defaultFile.Store(fileWrapper{f: NewFile()})
}

// SetDefaultFile replaces the platform File implementation. Tests use it to
// inject failures.
func SetDefaultFile(file File) {
	defaultFile.Store(fileWrapper{f: file})
}

func current() (File, error) {
	fw, ok := defaultFile.Load().(fileWrapper)
	if !ok || fw.f == nil {
		return nil, os.ErrInvalid
	}
	return fw.f, nil
}

// Create creates or truncates the named file for writing.
func Create(name string) (FileHandle, error) {
	f, err := current()
	if err != nil {
		return nil, err
	}
	return f.Create(name)
}

// Open opens the named file for reading.
func Open(name string) (FileHandle, error) {
	f, err := current()
	if err != nil {
		return nil, err
	}
	return f.Open(name)
}

// OpenFile is the generalized open call.
func OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := current()
	if err != nil {
		return nil, err
	}
	return f.OpenFile(name, flag, perm)
}

// Remove deletes name, retrying briefly on platforms where open handles
// block deletion. A missing file is not an error.
func Remove(name string) error {
	f, err := current()
	if err != nil {
		return err
	}
	return f.SafeRemove(name)
}

var renameImpl = os.Rename

// Rename moves oldpath to newpath, replacing newpath. When the rename itself
// fails (cross-device moves, transient sharing violations) the content is
// copied instead and oldpath removed.
func Rename(oldpath, newpath string) error {
	var err error
	for attempt := 0; attempt < renameAttempts; attempt++ {
		if err = renameImpl(oldpath, newpath); err == nil {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		time.Sleep(renameRetryInterval * time.Duration(1<<attempt))
	}
	if cerr := copyFile(oldpath, newpath); cerr != nil {
		return fmt.Errorf("rename %s -> %s failed (%v) and copy fallback failed: %w", oldpath, newpath, err, cerr)
	}
	return Remove(oldpath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// WriteFileAtomic writes data to a temporary sibling of path, syncs it and
// renames it over path, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = Remove(tmp)
		return fmt.Errorf("failed to write temp file %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = Remove(tmp)
		return fmt.Errorf("failed to sync temp file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = Remove(tmp)
		return fmt.Errorf("failed to close temp file %s: %w", tmp, err)
	}
	if err := Rename(tmp, path); err != nil {
		_ = Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, path, err)
	}
	return SyncDir(filepath.Dir(path))
}
