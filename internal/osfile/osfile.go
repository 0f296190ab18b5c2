// Package osfile provides the filesystem primitives the storage engine
// treats as an external collaborator: create, truncate, stat, remove,
// fsync. The engine's file operations go through FS rather than the os
// package's file functions, so tests can substitute a fake.
package osfile

import (
	"io"
	"os"
)

// File is the subset of *os.File the engine needs. Satisfied by
// *os.File directly.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	Fd() uintptr
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

// FS is the filesystem abstraction the engine opens data/index files
// through. All paths use OS path semantics.
type FS interface {
	// OpenFile opens a file with the given flags/permissions, creating it
	// if os.O_CREATE is set. See os.OpenFile.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file info, or an error satisfying os.IsNotExist if the
	// file doesn't exist.
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether path exists.
	Exists(path string) (bool, error)

	// Remove deletes path. No error if it doesn't exist.
	Remove(path string) error

	// Rename moves oldpath to newpath, atomic on the same filesystem.
	Rename(oldpath, newpath string) error

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string, perm os.FileMode) error

	// CreateTemp creates a new unique temp file in dir with the given
	// name pattern (see os.CreateTemp) and returns it along with its path.
	CreateTemp(dir, pattern string) (File, string, error)
}

// Real implements FS against the actual filesystem. It is a thin
// passthrough to the os package, mirroring the production adapter the
// teacher repo uses to keep engine code free of direct os.* calls.
type Real struct{}

// NewReal returns a new Real filesystem.
func NewReal() *Real { return &Real{} }

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (r *Real) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	return err
}

func (r *Real) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (r *Real) CreateTemp(dir, pattern string) (File, string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, "", err
	}

	return f, f.Name(), nil
}

var _ FS = (*Real)(nil)
var _ File = (*os.File)(nil)
