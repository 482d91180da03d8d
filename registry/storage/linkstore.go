package storage

import (
	"context"

	digest "github.com/opencontainers/go-digest"

	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/registry/storage/cache"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// blobStatter resolves a digest to a descriptor within some scope —
// global, repository-linked, or cache-fronted.
type blobStatter interface {
	stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error)
}

// linkSpecFunc builds the path of the link file a repository uses to
// reference a digest. Blobs and manifest revisions use distinct link
// directories (_layers vs _manifests/revisions) even though both are, at
// the filesystem level, a tiny file containing a digest string.
type linkSpecFunc func(name string, dgst digest.Digest) pathSpec

func layerLinkSpec(name string, dgst digest.Digest) pathSpec {
	return layerLinkPathSpec{name: name, digest: dgst}
}

func manifestRevisionLinkSpec(name string, dgst digest.Digest) pathSpec {
	return manifestRevisionLinkPathSpec{name: name, revision: dgst}
}

// linkedBlobStatter resolves a digest to a descriptor by following a
// repository-scoped link file into the global blob store.
type linkedBlobStatter struct {
	blobStore *blobStore
	repo      string
	linkSpec  linkSpecFunc
}

func (s *linkedBlobStatter) stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	if _, err := readLink(ctx, s.blobStore, s.linkPath(dgst)); err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return manifest.Descriptor{}, errBlobUnknown
		}
		return manifest.Descriptor{}, err
	}

	desc, err := s.blobStore.stat(ctx, dgst)
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return manifest.Descriptor{}, errBlobUnknown
		}
		return manifest.Descriptor{}, err
	}
	return desc, nil
}

func (s *linkedBlobStatter) linkPath(dgst digest.Digest) pathSpec {
	return s.linkSpec(s.repo, dgst)
}

// hasLink reports whether a link file exists for dgst, without requiring
// the linked blob itself to still be present.
func (s *linkedBlobStatter) hasLink(ctx context.Context, dgst digest.Digest) (bool, error) {
	p, err := canonicalPath(s.blobStore.pm, s.linkPath(dgst))
	if err != nil {
		return false, err
	}
	return pathExists(ctx, s.blobStore.driver, p)
}

// link writes a link file under linkSpec(repo, dgst) pointing at the blob
// identified by dgst. Per spec, linking does not require the target blob to
// already exist — link files are plain text and integrity is enforced at
// the manifest layer instead.
func (s *linkedBlobStatter) link(ctx context.Context, dgst digest.Digest) error {
	p, err := canonicalPath(s.blobStore.pm, s.linkPath(dgst))
	if err != nil {
		return err
	}
	return s.blobStore.driver.PutContent(ctx, p, []byte(dgst.String()))
}

// unlink removes the link file, if present. A missing link is not an error.
func (s *linkedBlobStatter) unlink(ctx context.Context, dgst digest.Digest) error {
	p, err := canonicalPath(s.blobStore.pm, s.linkPath(dgst))
	if err != nil {
		return err
	}
	if err := s.blobStore.driver.Delete(ctx, p); err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// cachedBlobStatter fronts an upstream statter with a descriptor cache,
// offering the cache each descriptor it resolves on a miss and
// invalidating nothing on its own — that is the cache provider's job via
// Clear. The cache only admits descriptors that pass
// cache.ValidateDescriptor, which rejects an empty media type, so the
// media-type-less descriptors blobStore.stat returns are not stored.
type cachedBlobStatter struct {
	cache    cache.BlobDescriptorService
	upstream blobStatter
}

func (s *cachedBlobStatter) stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	if desc, err := s.cache.Stat(ctx, dgst); err == nil {
		return desc, nil
	}

	desc, err := s.upstream.stat(ctx, dgst)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	_ = s.cache.SetDescriptor(ctx, dgst, desc)
	return desc, nil
}

// readLink reads and resolves a link file at spec, returning the digest it
// points to. It does not verify the target blob still exists; callers that
// care (the statters) follow up with a stat.
func readLink(ctx context.Context, bs *blobStore, spec pathSpec) (digest.Digest, error) {
	p, err := canonicalPath(bs.pm, spec)
	if err != nil {
		return "", err
	}

	content, err := bs.driver.GetContent(ctx, p)
	if err != nil {
		return "", err
	}

	return digest.Parse(string(content))
}

func canonicalPath(pm pathMapper, spec pathSpec) (string, error) {
	p, err := pm.path(spec)
	if err != nil {
		return "", err
	}
	return canonicalize(p)
}
