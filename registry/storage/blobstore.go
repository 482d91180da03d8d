package storage

import (
	"context"
	"io"

	digest "github.com/opencontainers/go-digest"

	regdigest "github.com/ocireg/registry/digest"
	"github.com/ocireg/registry/manifest"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// blobStore implements the global, content-addressed blob store described
// in C3. It knows nothing about repositories; that scoping is layered on
// top by linkedBlobStatter.
type blobStore struct {
	driver storagedriver.StorageDriver
	pm     pathMapper
}

// path returns the canonical path for dgst, which may or may not exist.
func (bs *blobStore) path(dgst digest.Digest) (string, error) {
	p, err := bs.pm.path(blobDataPathSpec{digest: dgst})
	if err != nil {
		return "", err
	}
	return canonicalize(p)
}

// hasBlob reports whether the blob identified by dgst is present.
func (bs *blobStore) hasBlob(ctx context.Context, dgst digest.Digest) (bool, error) {
	p, err := bs.path(dgst)
	if err != nil {
		return false, err
	}
	return pathExists(ctx, bs.driver, p)
}

// stat returns size and media-type-less descriptor information for dgst.
// The linked and cached statters pass the descriptor on unchanged, so the
// blob endpoint falls back to its own default content type.
func (bs *blobStore) stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	p, err := bs.path(dgst)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	fi, err := bs.driver.Stat(ctx, p)
	if err != nil {
		return manifest.Descriptor{}, err
	}
	if fi.IsDir() {
		return manifest.Descriptor{}, storagedriver.PathNotFoundError{Path: p}
	}

	return manifest.Descriptor{Digest: dgst, Size: fi.Size()}, nil
}

// open returns a reader for the blob's content starting at offset.
func (bs *blobStore) open(ctx context.Context, dgst digest.Digest, offset int64) (io.ReadCloser, error) {
	p, err := bs.path(dgst)
	if err != nil {
		return nil, err
	}
	return bs.driver.Reader(ctx, p, offset)
}

// get reads the entire blob into memory. Only used for manifests, which are
// small by construction.
func (bs *blobStore) get(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	p, err := bs.path(dgst)
	if err != nil {
		return nil, err
	}
	return bs.driver.GetContent(ctx, p)
}

// put stores p under the digest of its own content, deduplicating against
// an existing blob with the same digest, and returns the resulting
// descriptor. Used by the manifest store, where payloads are buffered in
// memory already.
func (bs *blobStore) put(ctx context.Context, mediaType string, p []byte) (manifest.Descriptor, error) {
	dgst := regdigest.FromBytes(p)

	path, err := bs.path(dgst)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	if exists, err := pathExists(ctx, bs.driver, path); err != nil {
		return manifest.Descriptor{}, err
	} else if !exists {
		if err := bs.driver.PutContent(ctx, path, p); err != nil {
			return manifest.Descriptor{}, err
		}
	}

	return manifest.Descriptor{MediaType: mediaType, Digest: dgst, Size: int64(len(p))}, nil
}

// delete unlinks the blob file itself. Per spec, a missing blob is not an
// error; the caller is told whether anything was actually removed.
func (bs *blobStore) delete(ctx context.Context, dgst digest.Digest) (bool, error) {
	p, err := bs.path(dgst)
	if err != nil {
		return false, err
	}

	exists, err := pathExists(ctx, bs.driver, p)
	if err != nil || !exists {
		return false, err
	}

	if err := bs.driver.Delete(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// pathExists reports whether path is present, treating PathNotFoundError as
// a false/nil result rather than propagating it.
func pathExists(ctx context.Context, driver storagedriver.StorageDriver, path string) (bool, error) {
	if _, err := driver.Stat(ctx, path); err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
