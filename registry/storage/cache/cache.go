// Package cache provides facilities to speed up access to the storage
// backend: a blob descriptor cache consulted when a repository stats a
// blob. Garbage collection does not consult it.
package cache

import (
	"context"
	"errors"
	"fmt"

	digest "github.com/opencontainers/go-digest"

	"github.com/ocireg/registry/manifest"
)

// ErrBlobUnknown is returned by a BlobDescriptorService when no entry is
// cached for the requested digest. It is a cache miss, not a storage-layer
// error: callers fall back to statting the blob store directly.
var ErrBlobUnknown = errors.New("cache: blob unknown")

// BlobDescriptorService describes a cache of manifest.Descriptor keyed by
// digest.
type BlobDescriptorService interface {
	Stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error)
	Clear(ctx context.Context, dgst digest.Digest) error
	SetDescriptor(ctx context.Context, dgst digest.Digest, desc manifest.Descriptor) error
}

// BlobDescriptorCacheProvider provides repository-scoped
// BlobDescriptorService instances plus a global one.
type BlobDescriptorCacheProvider interface {
	BlobDescriptorService

	RepositoryScoped(repo string) (BlobDescriptorService, error)
}

// Pinger is implemented by a BlobDescriptorCacheProvider backed by a real
// network service, so a health check can confirm it is reachable.
// in-process providers (memory) have nothing to ping and do not implement
// it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ValidateDescriptor ensures a descriptor meets the common criteria caches
// require before admitting it.
func ValidateDescriptor(desc manifest.Descriptor) error {
	if err := desc.Digest.Validate(); err != nil {
		return err
	}
	if desc.Size < 0 {
		return fmt.Errorf("cache: invalid size in descriptor: %d < 0", desc.Size)
	}
	if desc.MediaType == "" {
		return fmt.Errorf("cache: empty mediatype on descriptor: %v", desc)
	}
	return nil
}
