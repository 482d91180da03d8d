// Package storage implements C3 through C9: the content-addressed blob
// store, upload session manager, manifest store, tag/catalog listing,
// garbage collector, and upload reaper that sit behind the HTTP handlers.
package storage

import (
	"time"

	"github.com/ocireg/registry/configuration"
	"github.com/ocireg/registry/registry/storage/cache"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// Registry is the top-level handle onto a storage backend. One Registry is
// constructed per process and shared by every request; Repository values
// handed out from it are cheap, request-scoped views over a single
// repository name.
type Registry struct {
	driver        storagedriver.StorageDriver
	blobStore     *blobStore
	cacheProvider cache.BlobDescriptorCacheProvider
	catalog       configuration.Catalog
	uploadTimeout time.Duration
	activeUploads *activeDigestSet
}

// NewRegistry constructs a Registry backed by driver. cacheProvider may be
// nil, in which case blob statting always falls through to the driver.
func NewRegistry(driver storagedriver.StorageDriver, cacheProvider cache.BlobDescriptorCacheProvider, catalog configuration.Catalog, uploadTimeout time.Duration) *Registry {
	if catalog.DefaultLimit <= 0 {
		catalog.DefaultLimit = 100
	}
	if catalog.MaxLimit <= 0 {
		catalog.MaxLimit = 1000
	}

	return &Registry{
		driver:        driver,
		blobStore:     &blobStore{driver: driver},
		cacheProvider: cacheProvider,
		catalog:       catalog,
		uploadTimeout: uploadTimeout,
		activeUploads: newActiveDigestSet(),
	}
}

// Repository returns a request-scoped view of the named repository. name is
// assumed to have already been validated by reference.ValidateName.
func (reg *Registry) Repository(name string) *Repository {
	var statter blobStatter = &linkedBlobStatter{blobStore: reg.blobStore, repo: name, linkSpec: layerLinkSpec}

	if reg.cacheProvider != nil {
		if scoped, err := reg.cacheProvider.RepositoryScoped(name); err == nil {
			statter = &cachedBlobStatter{cache: scoped, upstream: statter}
		}
	}

	return &Repository{
		registry: reg,
		name:     name,
		statter:  statter,
	}
}

// Repository provides name-scoped access to a repository's blobs,
// manifests, and tags.
type Repository struct {
	registry *Registry
	name     string
	statter  blobStatter
}

// Name returns the repository's fully-qualified name.
func (r *Repository) Name() string {
	return r.name
}

// Blobs returns the repo-scoped blob (layer) store.
func (r *Repository) Blobs() *BlobService {
	return &BlobService{
		repo:     r,
		blobs:    r.registry.blobStore,
		statter:  r.statter,
		linkSpec: layerLinkSpec,
	}
}

// Manifests returns the repo-scoped manifest store.
func (r *Repository) Manifests() *ManifestService {
	return &ManifestService{
		repo:  r,
		blobs: r.registry.blobStore,
		links: &linkedBlobStatter{blobStore: r.registry.blobStore, repo: r.name, linkSpec: manifestRevisionLinkSpec},
	}
}

// Tags returns the repo-scoped tag store.
func (r *Repository) Tags() *TagService {
	return &TagService{repo: r, driver: r.registry.driver}
}
