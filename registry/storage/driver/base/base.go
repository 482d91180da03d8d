// Package base provides a Base struct that can be embedded in storage
// driver implementations to handle common error-wrapping, plus a Regulator decorator that bounds the number of
// concurrent operations a driver services, matching the teacher's
// filesystem driver's MaxThreads knob.
package base

import (
	"context"
	"io"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// Base embeds a StorageDriver implementation and stamps the driver's name
// onto the typed errors it returns; it does no path validation of its own.
type Base struct {
	storagedriver.StorageDriver
}

func (base *Base) setDriverName(e error) error {
	switch actual := e.(type) {
	case nil:
		return nil
	case storagedriver.PathNotFoundError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	case storagedriver.InvalidOffsetError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	case storagedriver.InvalidPathError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	default:
		return e
	}
}

// GetContent wraps GetContent of underlying storage driver.
func (base *Base) GetContent(ctx context.Context, path string) ([]byte, error) {
	content, e := base.StorageDriver.GetContent(ctx, path)
	return content, base.setDriverName(e)
}

// PutContent wraps PutContent of underlying storage driver.
func (base *Base) PutContent(ctx context.Context, path string, content []byte) error {
	return base.setDriverName(base.StorageDriver.PutContent(ctx, path, content))
}

// Reader wraps Reader of underlying storage driver.
func (base *Base) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	rc, e := base.StorageDriver.Reader(ctx, path, offset)
	return rc, base.setDriverName(e)
}

// Writer wraps Writer of underlying storage driver.
func (base *Base) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	writer, e := base.StorageDriver.Writer(ctx, path, append)
	return writer, base.setDriverName(e)
}

// Stat wraps Stat of underlying storage driver.
func (base *Base) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	fi, e := base.StorageDriver.Stat(ctx, path)
	return fi, base.setDriverName(e)
}

// List wraps List of underlying storage driver.
func (base *Base) List(ctx context.Context, path string) ([]string, error) {
	paths, e := base.StorageDriver.List(ctx, path)
	return paths, base.setDriverName(e)
}

// Move wraps Move of underlying storage driver.
func (base *Base) Move(ctx context.Context, sourcePath string, destPath string) error {
	return base.setDriverName(base.StorageDriver.Move(ctx, sourcePath, destPath))
}

// Delete wraps Delete of underlying storage driver.
func (base *Base) Delete(ctx context.Context, path string) error {
	return base.setDriverName(base.StorageDriver.Delete(ctx, path))
}

// RedirectURL wraps RedirectURL of underlying storage driver.
func (base *Base) RedirectURL(method string, path string) (string, error) {
	return base.StorageDriver.RedirectURL(method, path)
}

// Walk wraps Walk of underlying storage driver.
func (base *Base) Walk(ctx context.Context, path string, f storagedriver.WalkFn) error {
	return base.setDriverName(base.StorageDriver.Walk(ctx, path, f))
}

// regulator wraps a StorageDriver so that at most a bounded number of
// operations may run concurrently, limiting descriptor/goroutine pressure
// under a stampede of simultaneous blob pulls.
type regulator struct {
	storagedriver.StorageDriver
	limit chan struct{}
}

// NewRegulator wraps the given driver in a regulator limiting it to at
// most maxThreads concurrent operations. A maxThreads of 0 means
// unlimited.
func NewRegulator(driver storagedriver.StorageDriver, maxThreads uint64) storagedriver.StorageDriver {
	if maxThreads == 0 {
		return driver
	}
	return &regulator{
		StorageDriver: driver,
		limit:         make(chan struct{}, maxThreads),
	}
}

func (r *regulator) enter() {
	r.limit <- struct{}{}
}

func (r *regulator) exit() {
	<-r.limit
}

func (r *regulator) GetContent(ctx context.Context, path string) ([]byte, error) {
	r.enter()
	defer r.exit()
	return r.StorageDriver.GetContent(ctx, path)
}

func (r *regulator) PutContent(ctx context.Context, path string, content []byte) error {
	r.enter()
	defer r.exit()
	return r.StorageDriver.PutContent(ctx, path, content)
}

func (r *regulator) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	r.enter()
	defer r.exit()
	return r.StorageDriver.Reader(ctx, path, offset)
}

func (r *regulator) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	r.enter()
	defer r.exit()
	return r.StorageDriver.Writer(ctx, path, append)
}

func (r *regulator) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	r.enter()
	defer r.exit()
	return r.StorageDriver.Stat(ctx, path)
}

func (r *regulator) List(ctx context.Context, path string) ([]string, error) {
	r.enter()
	defer r.exit()
	return r.StorageDriver.List(ctx, path)
}

func (r *regulator) Move(ctx context.Context, sourcePath string, destPath string) error {
	r.enter()
	defer r.exit()
	return r.StorageDriver.Move(ctx, sourcePath, destPath)
}

func (r *regulator) Delete(ctx context.Context, path string) error {
	r.enter()
	defer r.exit()
	return r.StorageDriver.Delete(ctx, path)
}

func (r *regulator) Walk(ctx context.Context, path string, f storagedriver.WalkFn) error {
	r.enter()
	defer r.exit()
	return r.StorageDriver.Walk(ctx, path, f)
}
