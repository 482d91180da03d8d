package storage

import (
	"context"
	"io"
	"time"

	digest "github.com/opencontainers/go-digest"
	"github.com/google/uuid"

	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/metrics"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// BlobService provides repository-scoped access to blobs (C3's layer
// links) and the upload sessions that create them (C4).
type BlobService struct {
	repo     *Repository
	blobs    *blobStore
	statter  blobStatter
	linkSpec linkSpecFunc
}

func (b *BlobService) linked() *linkedBlobStatter {
	return &linkedBlobStatter{blobStore: b.blobs, repo: b.repo.name, linkSpec: b.linkSpec}
}

// Stat resolves dgst to a descriptor, requiring a layer link in this
// repository.
func (b *BlobService) Stat(ctx context.Context, dgst digest.Digest) (manifest.Descriptor, error) {
	start := time.Now()
	desc, err := b.statter.stat(ctx, dgst)
	recordStorageOp("blob_stat", start, err)
	return desc, err
}

// Open returns a reader over the blob's content, honoring offset for range
// requests. It performs the same access check as Stat before touching the
// global blob store.
func (b *BlobService) Open(ctx context.Context, dgst digest.Digest, offset int64) (io.ReadCloser, error) {
	if _, err := b.Stat(ctx, dgst); err != nil {
		return nil, err
	}
	return b.blobs.open(ctx, dgst, offset)
}

// Mount creates a layer link in this repository for a blob that already
// has one in fromRepo, without copying any data. It fails if fromRepo has
// no link for dgst or the underlying blob is gone.
func (b *BlobService) Mount(ctx context.Context, fromRepo string, dgst digest.Digest) (manifest.Descriptor, error) {
	source := &linkedBlobStatter{blobStore: b.blobs, repo: fromRepo, linkSpec: b.linkSpec}

	desc, err := source.stat(ctx, dgst)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	if err := b.linked().link(ctx, dgst); err != nil {
		return manifest.Descriptor{}, err
	}

	return desc, nil
}

// Delete removes this repository's layer link for dgst and, if no other
// repository still references the blob, the blob itself.
func (b *BlobService) Delete(ctx context.Context, dgst digest.Digest) (err error) {
	start := time.Now()
	defer func() { recordStorageOp("blob_delete", start, err) }()

	if ok, hasErr := b.linked().hasLink(ctx, dgst); hasErr != nil {
		return hasErr
	} else if !ok {
		return errBlobUnknown
	}

	if err = b.linked().unlink(ctx, dgst); err != nil {
		return err
	}

	refs, err := b.repo.registry.countBlobReferences(ctx, dgst)
	if err != nil {
		return err
	}
	if refs == 0 {
		if _, err = b.blobs.delete(ctx, dgst); err != nil {
			return err
		}
	}
	return nil
}

// recordStorageOp updates the operations counter and duration timer every
// storage-layer call goes through, labeled by the outcome the handlers
// layer would also distinguish: success or error.
func recordStorageOp(op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.StorageOperations.WithValues(op, outcome).Inc(1)
	metrics.StorageOperationDuration.WithValues(op).UpdateSince(start)
}

// NewUpload starts a new upload session (C4: — → OPEN).
func (b *BlobService) NewUpload(ctx context.Context) (*BlobWriter, error) {
	id := uuid.NewString()
	startedAt := time.Now().UTC()

	startedAtPath, err := b.startedAtPath(id)
	if err != nil {
		return nil, err
	}
	if err := b.blobs.driver.PutContent(ctx, startedAtPath, []byte(startedAt.Format(time.RFC3339))); err != nil {
		return nil, err
	}

	return b.newWriter(id, startedAt), nil
}

// Resume reopens an existing upload session by id (C4: OPEN, unchanged).
func (b *BlobService) Resume(ctx context.Context, id string) (*BlobWriter, error) {
	startedAtPath, err := b.startedAtPath(id)
	if err != nil {
		return nil, err
	}

	content, err := b.blobs.driver.GetContent(ctx, startedAtPath)
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return nil, errBlobUploadUnknown
		}
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		// A corrupt or missing startedat is treated the same way the
		// reaper treats it: defensively, as an expired/unknown session.
		return nil, errBlobUploadUnknown
	}

	return b.newWriter(id, startedAt), nil
}

func (b *BlobService) newWriter(id string, startedAt time.Time) *BlobWriter {
	return &BlobWriter{
		blobs:     b,
		id:        id,
		startedAt: startedAt,
	}
}

func (b *BlobService) dataPath(id string) (string, error) {
	return canonicalPath(b.blobs.pm, uploadDataPathSpec{name: b.repo.name, uuid: id})
}

func (b *BlobService) startedAtPath(id string) (string, error) {
	return canonicalPath(b.blobs.pm, uploadStartedAtPathSpec{name: b.repo.name, uuid: id})
}

func (b *BlobService) uploadDirPath(id string) (string, error) {
	p, err := b.dataPath(id)
	if err != nil {
		return "", err
	}
	return parentDir(p), nil
}

// stagedUploadPath names the temporary location Commit streams the
// combined upload into before its digest is known and it can be renamed
// into the content-addressed blob store.
func (b *BlobService) stagedUploadPath(id string) (string, error) {
	dir, err := b.uploadDirPath(id)
	if err != nil {
		return "", err
	}
	return canonicalize(dir + "/staged")
}

// parentDir strips the trailing "/data" (or any single final component)
// from p, giving the session's own directory.
func parentDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return p
}
