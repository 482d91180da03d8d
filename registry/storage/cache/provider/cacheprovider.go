// Package provider lets each cache backend self-register under a name, the
// same way registry/storage/driver/factory lets storage backends register.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/ocireg/registry/registry/storage/cache"
)

// InitFunc constructs a BlobDescriptorCacheProvider from a parameter bag.
type InitFunc func(ctx context.Context, params map[string]interface{}) (cache.BlobDescriptorCacheProvider, error)

var (
	mu        sync.RWMutex
	providers = map[string]InitFunc{}
)

// Register makes a cache provider available by the given name.
func Register(name string, init InitFunc) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := providers[name]; exists {
		return fmt.Errorf("provider: name already registered: %s", name)
	}
	providers[name] = init
	return nil
}

// Get constructs a cache provider using the named backend.
func Get(ctx context.Context, name string, params map[string]interface{}) (cache.BlobDescriptorCacheProvider, error) {
	mu.RLock()
	init, ok := providers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: no cache provider registered with name: %s", name)
	}
	return init(ctx, params)
}
