// Package factory lets each storage driver self-register under a name, and
// lets configuration construct a driver generically from that name plus a
// parameter bag, so adding a new backend never touches the registry's
// wiring code.
package factory

import (
	"context"
	"fmt"
	"sync"

	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// Factory creates and returns a new storagedriver.StorageDriver with the
// given parameters.
type Factory interface {
	Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a storage driver available by the provided name. If
// Register is called twice with the same name, or if the Factory is nil,
// it panics.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("factory: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("factory: RegisterFactory called twice for driver " + name)
	}
	drivers[name] = factory
}

// Create a new storagedriver.StorageDriver with the given name and
// parameters. To run the named driver's initialization, a factory must be
// registered for it, usually via an import of its package for side
// effects.
func Create(ctx context.Context, name string, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	driversMu.RLock()
	f, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, InvalidStorageDriverError{Name: name}
	}
	return f.Create(ctx, parameters)
}

// InvalidStorageDriverError records an attempt to construct an unregistered
// storage driver.
type InvalidStorageDriverError struct {
	Name string
}

func (e InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("factory: StorageDriver not registered: %s", e.Name)
}
