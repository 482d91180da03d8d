// Package inmemory implements a StorageDriver entirely in process memory.
// It backs the conformance test suite and any unit test that wants a
// zero-dependency storage backend; it is never appropriate for production
// use since content does not survive a process restart.
package inmemory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
	"github.com/ocireg/registry/registry/storage/driver/factory"
)

const driverName = "inmemory"

func init() {
	factory.Register(driverName, &inMemoryDriverFactory{})
}

type inMemoryDriverFactory struct{}

func (f *inMemoryDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return New(), nil
}

type node struct {
	isDir    bool
	content  []byte
	modTime  time.Time
	children map[string]*node
}

// Driver is an in-memory StorageDriver implementation.
type Driver struct {
	mu   sync.RWMutex
	root *node
}

var _ storagedriver.StorageDriver = &Driver{}

// New returns a new, empty in-memory driver.
func New() *Driver {
	return &Driver{
		root: &node{isDir: true, children: map[string]*node{}},
	}
}

func (d *Driver) Name() string {
	return driverName
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (d *Driver) find(parts []string) *node {
	cur := d.root
	for _, p := range parts {
		if cur.children == nil {
			return nil
		}
		next, ok := cur.children[p]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func (d *Driver) findOrCreateDir(parts []string) *node {
	cur := d.root
	for _, p := range parts {
		if cur.children == nil {
			cur.children = map[string]*node{}
		}
		next, ok := cur.children[p]
		if !ok {
			next = &node{isDir: true, children: map[string]*node{}}
			cur.children[p] = next
		}
		cur = next
	}
	return cur
}

func (d *Driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := d.find(split(path))
	if n == nil || n.isDir {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}
	out := make([]byte, len(n.content))
	copy(out, n.content)
	return out, nil
}

func (d *Driver) PutContent(ctx context.Context, path string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parts := split(path)
	if len(parts) == 0 {
		return storagedriver.InvalidPathError{Path: path}
	}
	parent := d.findOrCreateDir(parts[:len(parts)-1])
	name := parts[len(parts)-1]

	buf := make([]byte, len(content))
	copy(buf, content)

	parent.children[name] = &node{content: buf, modTime: time.Now()}
	return nil
}

type readCloser struct {
	io.Reader
}

func (readCloser) Close() error { return nil }

func (d *Driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := d.find(split(path))
	if n == nil || n.isDir {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}
	if offset > int64(len(n.content)) {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset}
	}
	buf := make([]byte, len(n.content)-int(offset))
	copy(buf, n.content[offset:])
	return readCloser{strings.NewReader(string(buf))}, nil
}

type memWriter struct {
	d         *Driver
	path      string
	buf       []byte
	closed    bool
	committed bool
	cancelled bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed || w.committed || w.cancelled {
		return 0, fmt.Errorf("inmemory: writer no longer usable")
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWriter) Size() int64 { return int64(len(w.buf)) }

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func (w *memWriter) Cancel(ctx context.Context) error {
	w.cancelled = true
	return nil
}

func (w *memWriter) Commit(ctx context.Context) error {
	if w.committed || w.cancelled {
		return fmt.Errorf("inmemory: writer no longer usable")
	}
	w.committed = true
	return w.d.PutContent(ctx, w.path, w.buf)
}

func (d *Driver) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	w := &memWriter{d: d, path: path}
	if append {
		existing, err := d.GetContent(ctx, path)
		if err == nil {
			w.buf = existing
		} else if _, ok := err.(storagedriver.PathNotFoundError); !ok {
			return nil, err
		}
	}
	return w, nil
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
	isDir   bool
}

func (fi fileInfo) Path() string       { return fi.path }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return fi.isDir }

func (d *Driver) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := d.find(split(path))
	if n == nil {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}
	fi := fileInfo{path: path, modTime: n.modTime, isDir: n.isDir}
	if !n.isDir {
		fi.size = int64(len(n.content))
	}
	return fi, nil
}

func (d *Driver) List(ctx context.Context, path string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := d.find(split(path))
	if n == nil || !n.isDir {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}

	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, strings.TrimPrefix(path+"/"+name, "//"))
	}
	sort.Strings(out)
	return out, nil
}

func (d *Driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	srcParts := split(sourcePath)
	if len(srcParts) == 0 {
		return storagedriver.InvalidPathError{Path: sourcePath}
	}
	srcParent := d.find(srcParts[:len(srcParts)-1])
	srcName := srcParts[len(srcParts)-1]
	if srcParent == nil || srcParent.children[srcName] == nil {
		return storagedriver.PathNotFoundError{Path: sourcePath}
	}
	moved := srcParent.children[srcName]
	delete(srcParent.children, srcName)

	destParts := split(destPath)
	destParent := d.findOrCreateDir(destParts[:len(destParts)-1])
	destParent.children[destParts[len(destParts)-1]] = moved
	return nil
}

func (d *Driver) Delete(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parts := split(path)
	if len(parts) == 0 {
		return storagedriver.InvalidPathError{Path: path}
	}
	parent := d.find(parts[:len(parts)-1])
	name := parts[len(parts)-1]
	if parent == nil || parent.children[name] == nil {
		return storagedriver.PathNotFoundError{Path: path}
	}
	delete(parent.children, name)
	return nil
}

func (d *Driver) RedirectURL(method string, path string) (string, error) {
	return "", nil
}

func (d *Driver) Walk(ctx context.Context, from string, f storagedriver.WalkFn) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := d.find(split(from))
	if n == nil {
		return storagedriver.PathNotFoundError{Path: from}
	}
	return d.walk(from, n, f)
}

func (d *Driver) walk(path string, n *node, f storagedriver.WalkFn) error {
	fi := fileInfo{path: path, modTime: n.modTime, isDir: n.isDir}
	if !n.isDir {
		fi.size = int64(len(n.content))
	}
	if err := f(fi); err != nil {
		return err
	}
	if !n.isDir {
		return nil
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		childPath := strings.TrimPrefix(path+"/"+name, "//")
		if err := d.walk(childPath, n.children[name], f); err != nil {
			return err
		}
	}
	return nil
}
