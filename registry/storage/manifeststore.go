package storage

import (
	"context"
	"encoding/json"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/reference"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// ManifestService implements C6: manifest storage with referential
// integrity against C3's blob store, and the tag indirection that lets a
// reference be either a digest or a tag name.
type ManifestService struct {
	repo  *Repository
	blobs *blobStore
	links *linkedBlobStatter // resolves/links manifest revisions
}

// Exists reports whether a manifest revision dgst has been stored in this
// repository, regardless of which tags (if any) point at it.
func (m *ManifestService) Exists(ctx context.Context, dgst digest.Digest) (bool, error) {
	return m.links.hasLink(ctx, dgst)
}

// Get resolves ref (a tag or a digest) to a manifest's raw bytes, its
// stored media type, and its digest.
func (m *ManifestService) Get(ctx context.Context, ref string) (mediaType string, payload []byte, dgst digest.Digest, err error) {
	start := time.Now()
	defer func() { recordStorageOp("manifest_get", start, err) }()

	dgst, err = m.resolve(ctx, ref)
	if err != nil {
		return "", nil, "", err
	}

	if ok, err := m.links.hasLink(ctx, dgst); err != nil {
		return "", nil, "", err
	} else if !ok {
		return "", nil, "", errManifestUnknown
	}

	content, err := m.blobs.get(ctx, dgst)
	if err != nil {
		return "", nil, "", err
	}

	man, _, err := manifest.Unmarshal(detectMediaType(content), content)
	if err != nil {
		return "", nil, "", err
	}

	mt, body, err := man.Payload()
	if err != nil {
		return "", nil, "", err
	}

	return mt, body, dgst, nil
}

// resolve maps ref to a digest: if it already parses as one, it is
// returned as-is (still subject to the Exists check by the caller);
// otherwise it is treated as a tag and resolved via the tag's current
// link.
func (m *ManifestService) resolve(ctx context.Context, ref string) (digest.Digest, error) {
	if !reference.IsTag(ref) {
		return digest.Parse(ref)
	}

	p, err := canonicalPath(m.blobs.pm, manifestTagCurrentPathSpec{name: m.repo.name, tag: ref})
	if err != nil {
		return "", err
	}

	content, err := m.blobs.driver.GetContent(ctx, p)
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return "", errManifestUnknown
		}
		return "", err
	}

	return digest.Parse(string(content))
}

// Put validates and stores a manifest under ref (a tag or a digest),
// enforcing I2 (every referenced blob must already exist) before writing
// anything, and returns the manifest's own computed digest.
//
// Image indices and manifest lists are exempt from the existence check on
// their own referenced manifests: those sub-manifests need not already be
// present at PUT time, matching the prevailing registry convention.
func (m *ManifestService) Put(ctx context.Context, ref, mediaType string, content []byte) (_ digest.Digest, err error) {
	start := time.Now()
	defer func() { recordStorageOp("manifest_put", start, err) }()

	man, desc, err := manifest.Unmarshal(mediaType, content)
	if err != nil {
		return "", errManifestInvalid
	}

	if !reference.IsTag(ref) {
		wanted, err := digest.Parse(ref)
		if err != nil {
			return "", errDigestInvalid
		}
		if wanted != desc.Digest {
			return "", errDigestInvalid
		}
	}

	if requiresReferenceCheck(mediaType) {
		for _, d := range man.References() {
			if ok, err := m.blobs.hasBlob(ctx, d.Digest); err != nil {
				return "", err
			} else if !ok {
				return "", errManifestBlobUnknown
			}
		}
	}

	if _, err := m.blobs.put(ctx, mediaType, content); err != nil {
		return "", err
	}

	if err := m.links.link(ctx, desc.Digest); err != nil {
		return "", err
	}

	if reference.IsTag(ref) {
		if err := m.tag(ctx, ref, desc.Digest); err != nil {
			return "", err
		}
	}

	return desc.Digest, nil
}

func (m *ManifestService) tag(ctx context.Context, tag string, dgst digest.Digest) error {
	p, err := canonicalPath(m.blobs.pm, manifestTagCurrentPathSpec{name: m.repo.name, tag: tag})
	if err != nil {
		return err
	}
	return m.blobs.driver.PutContent(ctx, p, []byte(dgst.String()))
}

// Delete removes the revision link for dgst, per spec refusing deletion by
// tag at the handler layer (C6: "deletion by tag is refused by callers").
// Any tags still pointing at dgst are left in place, dangling: they still
// appear in tag listings but no longer resolve, and GC does not remove them.
func (m *ManifestService) Delete(ctx context.Context, dgst digest.Digest) (err error) {
	start := time.Now()
	defer func() { recordStorageOp("manifest_delete", start, err) }()

	if ok, hasErr := m.links.hasLink(ctx, dgst); hasErr != nil {
		return hasErr
	} else if !ok {
		return errManifestUnknown
	}
	err = m.links.unlink(ctx, dgst)
	return err
}

// requiresReferenceCheck reports whether mediaType's descriptor references
// must point at blobs that already exist. Image manifests and the legacy
// docker v2 manifest are checked; indices/lists are not, per spec 4.6.
func requiresReferenceCheck(mediaType string) bool {
	switch mediaType {
	case manifest.MediaTypeImageManifest, manifest.MediaTypeDockerManifest:
		return true
	default:
		return false
	}
}

// detectMediaType recovers a manifest's media type from its own JSON body,
// which is mandatory on every one of the four schemas this registry
// supports, so Get can dispatch to manifest.Unmarshal without storing the
// media type anywhere else on disk.
func detectMediaType(content []byte) string {
	var probe struct {
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(content, &probe); err != nil {
		return ""
	}
	return probe.MediaType
}
