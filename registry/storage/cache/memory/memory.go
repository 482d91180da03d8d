// Package memory implements an in-process blob descriptor cache.
package memory

import (
	"context"
	"sync"

	digest "github.com/opencontainers/go-digest"

	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/registry/storage/cache"
	"github.com/ocireg/registry/registry/storage/cache/provider"
)

func init() {
	provider.Register("inmemory", NewBlobDescriptorCacheProvider)
}

type descriptorCacheKey struct {
	digest digest.Digest
	repo   string
}

type inMemoryBlobDescriptorCacheProvider struct {
	mu      sync.RWMutex
	entries map[descriptorCacheKey]manifest.Descriptor
}

// NewBlobDescriptorCacheProvider returns a new map-based cache for storing
// blob descriptor data. Unlike the teacher's ARC-backed cache, entries are
// never evicted on memory pressure; operators who need a bound should run
// the redis provider instead.
func NewBlobDescriptorCacheProvider(ctx context.Context, params map[string]interface{}) (cache.BlobDescriptorCacheProvider, error) {
	return &inMemoryBlobDescriptorCacheProvider{
		entries: make(map[descriptorCacheKey]manifest.Descriptor),
	}, nil
}

func (c *inMemoryBlobDescriptorCacheProvider) RepositoryScoped(repo string) (cache.BlobDescriptorService, error) {
	return &repositoryScopedCache{repo: repo, parent: c}, nil
}

func (c *inMemoryBlobDescriptorCacheProvider) Stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	if err := dgst.Validate(); err != nil {
		return manifest.Descriptor{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	desc, ok := c.entries[descriptorCacheKey{digest: dgst}]
	if !ok {
		return manifest.Descriptor{}, cache.ErrBlobUnknown
	}
	return desc, nil
}

func (c *inMemoryBlobDescriptorCacheProvider) Clear(ctx context.Context, dgst digest.Digest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, descriptorCacheKey{digest: dgst})
	return nil
}

func (c *inMemoryBlobDescriptorCacheProvider) SetDescriptor(ctx context.Context, dgst digest.Digest, desc manifest.Descriptor) error {
	if err := dgst.Validate(); err != nil {
		return err
	}
	if err := cache.ValidateDescriptor(desc); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[descriptorCacheKey{digest: dgst}] = desc
	return nil
}

// repositoryScopedCache provides the request-scoped repository cache.
type repositoryScopedCache struct {
	repo   string
	parent *inMemoryBlobDescriptorCacheProvider
}

func (r *repositoryScopedCache) Stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	if err := dgst.Validate(); err != nil {
		return manifest.Descriptor{}, err
	}

	r.parent.mu.RLock()
	defer r.parent.mu.RUnlock()

	desc, ok := r.parent.entries[descriptorCacheKey{digest: dgst, repo: r.repo}]
	if !ok {
		return manifest.Descriptor{}, cache.ErrBlobUnknown
	}
	return desc, nil
}

func (r *repositoryScopedCache) Clear(ctx context.Context, dgst digest.Digest) error {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()
	delete(r.parent.entries, descriptorCacheKey{digest: dgst, repo: r.repo})
	return nil
}

func (r *repositoryScopedCache) SetDescriptor(ctx context.Context, dgst digest.Digest, desc manifest.Descriptor) error {
	if err := dgst.Validate(); err != nil {
		return err
	}
	if err := cache.ValidateDescriptor(desc); err != nil {
		return err
	}

	r.parent.mu.Lock()
	r.parent.entries[descriptorCacheKey{digest: dgst, repo: r.repo}] = desc
	r.parent.mu.Unlock()

	return r.parent.SetDescriptor(ctx, dgst, desc)
}
