// Package storagedriver defines the interface every registry storage
// backend implements: a content-addressed byte store keyed by slash
// separated paths, with atomic writes guaranteed via StorageDriver.Writer's
// Commit semantics.
package storagedriver

import (
	"context"
	"fmt"
	"io"
	"time"
)

// StorageDriver defines the methods a storage driver must implement to
// back the registry. All implementations must be safe for concurrent use,
// and Writer's returned FileWriter must not make partial writes visible to
// concurrent Readers/Stat calls of the same path until Commit is called.
type StorageDriver interface {
	// Name returns the human-readable "name" of the driver, useful in
	// error messages and logging.
	Name() string

	// GetContent retrieves the content stored at path as a []byte.
	GetContent(ctx context.Context, path string) ([]byte, error)

	// PutContent stores the []byte content at path, wholesale replacing
	// anything that previously existed there, atomically.
	PutContent(ctx context.Context, path string, content []byte) error

	// Reader retrieves an io.ReadCloser for the content stored at path,
	// starting at offset.
	Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// Writer returns a FileWriter which is used to write content to the
	// given path. If append is true, the existing content, if present,
	// will not be truncated, and the returned writer's Size reflects the
	// previously written bytes; otherwise the path is reset.
	Writer(ctx context.Context, path string, append bool) (FileWriter, error)

	// Stat retrieves the FileInfo for the given path, including the
	// current size in bytes and the modification time.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns a list of the objects that are direct descendants of
	// the given path.
	List(ctx context.Context, path string) ([]string, error)

	// Move moves an object stored at sourcePath to destPath, removing the
	// original object. Note that destination paths and their parents are
	// created implicitly.
	Move(ctx context.Context, sourcePath string, destPath string) error

	// Delete recursively deletes all objects stored at path and its
	// subpaths.
	Delete(ctx context.Context, path string) error

	// RedirectURL returns a URL the client may use to fetch the content
	// stored at path directly from the backend, bypassing the registry,
	// or the empty string if the driver does not support redirects.
	RedirectURL(method string, path string) (string, error)

	// Walk traverses the filesystem rooted at path, calling f on each
	// file and directory, the way filepath.Walk does for the local
	// filesystem.
	Walk(ctx context.Context, path string, f WalkFn) error
}

// WalkFn is called once per file/directory in Walk.
type WalkFn func(fileInfo FileInfo) error

// FileWriter provides an abstraction for an opened writable file-like
// resource in the storage backend, following the teacher's
// filesystem.fileWriter contract: writes accumulate invisibly until
// Commit, or are discarded entirely by Cancel.
type FileWriter interface {
	io.WriteCloser

	// Size returns the number of bytes written to this FileWriter.
	Size() int64

	// Cancel removes any written content from this FileWriter.
	Cancel(ctx context.Context) error

	// Commit flushes all content written to this FileWriter and makes it
	// visible to subsequent calls to StorageDriver.GetContent and
	// StorageDriver.Reader.
	Commit(ctx context.Context) error
}

// FileInfo returns information about a given path. Host filesystem
// implementations are expected to return an instance of this struct from
// their Stat method.
type FileInfo interface {
	// Path provides the full path of the target of this file info.
	Path() string

	// Size returns current length in bytes of the file. The return value
	// is undefined for directories.
	Size() int64

	// ModTime returns the modification time for the file.
	ModTime() time.Time

	// IsDir returns true if the path is a directory.
	IsDir() bool
}

// PathNotFoundError is returned by Reader/Stat/List/Move/Delete operations
// when no content exists at the given path.
type PathNotFoundError struct {
	Path       string
	DriverName string
}

func (e PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: Path not found: %s", e.DriverName, e.Path)
}

// InvalidOffsetError is returned by Reader when the given offset is invalid
// for the content at the given path.
type InvalidOffsetError struct {
	Path       string
	Offset     int64
	DriverName string
}

func (e InvalidOffsetError) Error() string {
	return fmt.Sprintf("%s: invalid offset %d for path %s", e.DriverName, e.Offset, e.Path)
}

// InvalidPathError is returned when a path is invalid for the storage
// backend, such as one escaping the configured root directory.
type InvalidPathError struct {
	Path       string
	DriverName string
}

func (e InvalidPathError) Error() string {
	return fmt.Sprintf("%s: invalid path: %s", e.DriverName, e.Path)
}
