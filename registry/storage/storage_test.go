package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/configuration"
	"github.com/ocireg/registry/registry/storage/cache/memory"
	"github.com/ocireg/registry/registry/storage/driver/filesystem"
)

// newTestRegistry builds a Registry backed by a throwaway filesystem driver
// rooted in t.TempDir(), fronted by an in-memory descriptor cache, the same
// way the handlers package's own tests spin up a registry with no external
// dependencies.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	ctx := context.Background()

	driver := filesystem.New(filesystem.DriverParameters{RootDirectory: t.TempDir(), MaxThreads: 100})

	cacheProvider, err := memory.NewBlobDescriptorCacheProvider(ctx, nil)
	require.NoError(t, err)

	return NewRegistry(driver, cacheProvider, configuration.Catalog{DefaultLimit: 100, MaxLimit: 1000}, time.Minute)
}
