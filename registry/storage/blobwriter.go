package storage

import (
	"context"
	"io"
	"time"

	digest "github.com/opencontainers/go-digest"

	regdigest "github.com/ocireg/registry/digest"
	"github.com/ocireg/registry/manifest"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// BlobWriter drives a single upload session through the states of C4:
// OPEN, then COMMITTED (successful PUT) or ABORTED (DELETE or reaper
// timeout). Unlike the teacher's resumable-digest writer, it does not
// persist hash state between PATCHes — the authoritative offset is always
// the size of the session's data file, and the digest is computed once,
// over the combined stream, at commit time.
type BlobWriter struct {
	blobs     *BlobService
	id        string
	startedAt time.Time
}

// ID returns the upload session's identifier.
func (bw *BlobWriter) ID() string { return bw.id }

// StartedAt returns when the session was opened.
func (bw *BlobWriter) StartedAt() time.Time { return bw.startedAt }

// Size reports the current size of the session's accumulated data, which
// is also its authoritative offset per spec 4.4.
func (bw *BlobWriter) Size(ctx context.Context) (int64, error) {
	p, err := bw.blobs.dataPath(bw.id)
	if err != nil {
		return 0, err
	}

	fi, err := bw.blobs.blobs.driver.Stat(ctx, p)
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return 0, nil
		}
		return 0, err
	}
	return fi.Size(), nil
}

// Append appends body to the session's data file. If expectedStart is
// non-negative (a client-supplied Content-Range was present), it must
// equal the current size, or the current size is returned alongside
// errContentRangeInvalid so the caller can report it in the 416 response.
func (bw *BlobWriter) Append(ctx context.Context, body io.Reader, expectedStart int64) (newSize int64, err error) {
	current, err := bw.Size(ctx)
	if err != nil {
		return 0, err
	}

	if expectedStart >= 0 && expectedStart != current {
		return current, errContentRangeInvalid
	}

	p, err := bw.blobs.dataPath(bw.id)
	if err != nil {
		return 0, err
	}

	fw, err := bw.blobs.blobs.driver.Writer(ctx, p, current > 0)
	if err != nil {
		return 0, err
	}

	n, copyErr := io.Copy(fw, body)
	if copyErr != nil {
		fw.Cancel()
		return 0, copyErr
	}
	if err := fw.Commit(); err != nil {
		return 0, err
	}
	if err := fw.Close(); err != nil {
		return 0, err
	}

	return current + n, nil
}

// Commit combines the session's accumulated data with the final PUT body
// into one logical stream, hashes it while streaming it to a staged blob
// path, verifies the result against desc.Digest, renames the staged file
// into its content-addressed home, links it into the repository, and
// deletes the session directory (C4: OPEN -> COMMITTED).
//
// The stream is consumed exactly once: io.TeeReader feeds the hasher as
// the combined reader is copied to the staged file, so nothing is buffered
// in memory and nothing is read from disk twice.
func (bw *BlobWriter) Commit(ctx context.Context, desc manifest.Descriptor, body io.Reader) (manifest.Descriptor, error) {
	dataPath, err := bw.blobs.dataPath(bw.id)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	existing, err := bw.blobs.blobs.driver.Reader(ctx, dataPath, 0)
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); !ok {
			return manifest.Descriptor{}, err
		}
		existing = io.NopCloser(bytesEmptyReader{})
	}
	defer existing.Close()

	combined := io.MultiReader(existing, body)

	stagePath, err := bw.blobs.stagedUploadPath(bw.id)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	fw, err := bw.blobs.blobs.driver.Writer(ctx, stagePath, false)
	if err != nil {
		return manifest.Descriptor{}, err
	}

	alg := desc.Digest.Algorithm()
	if alg == "" {
		alg = regdigest.Canonical
	}
	hasher := alg.Digester()

	size, copyErr := io.Copy(fw, io.TeeReader(combined, hasher.Hash()))
	if copyErr != nil {
		fw.Cancel()
		return manifest.Descriptor{}, copyErr
	}
	if err := fw.Commit(); err != nil {
		return manifest.Descriptor{}, err
	}
	if err := fw.Close(); err != nil {
		return manifest.Descriptor{}, err
	}

	computed := hasher.Digest()
	if desc.Digest != "" && computed != desc.Digest {
		_ = bw.blobs.blobs.driver.Delete(ctx, stagePath)
		bw.abortSession(ctx)
		return manifest.Descriptor{}, errDigestInvalid
	}

	// The digest is only known from this point on; register it so a
	// concurrent GC sweep classifies it skipped_active_upload instead of
	// racing to delete it the instant it lands in the blob store.
	active := bw.blobs.repo.registry.activeUploads
	active.add(computed)
	defer active.remove(computed)

	if err := bw.commitStagedBlob(ctx, stagePath, computed); err != nil {
		return manifest.Descriptor{}, err
	}

	final := manifest.Descriptor{MediaType: desc.MediaType, Digest: computed, Size: size}

	if err := bw.blobs.linked().link(ctx, computed); err != nil {
		return manifest.Descriptor{}, err
	}

	bw.abortSession(ctx)

	return final, nil
}

// commitStagedBlob moves the staged file into its content-addressed home.
// If a blob with the same digest already exists (a concurrent writer won
// the race, or the content was already known), the staged copy is
// discarded instead — a duplicate final write is treated as success per
// spec's putBlob dedup rule.
func (bw *BlobWriter) commitStagedBlob(ctx context.Context, stagePath string, dgst digest.Digest) error {
	finalPath, err := bw.blobs.blobs.path(dgst)
	if err != nil {
		return err
	}

	if exists, err := pathExists(ctx, bw.blobs.blobs.driver, finalPath); err != nil {
		return err
	} else if exists {
		return bw.blobs.blobs.driver.Delete(ctx, stagePath)
	}

	return bw.blobs.blobs.driver.Move(ctx, stagePath, finalPath)
}

// Cancel aborts the session (C4: OPEN -> ABORTED).
func (bw *BlobWriter) Cancel(ctx context.Context) error {
	bw.abortSession(ctx)
	return nil
}

func (bw *BlobWriter) abortSession(ctx context.Context) {
	dir, err := bw.blobs.uploadDirPath(bw.id)
	if err != nil {
		return
	}
	_ = bw.blobs.blobs.driver.Delete(ctx, dir)
}

// bytesEmptyReader stands in for a not-yet-written session data file, so
// Commit's combined-stream logic does not need a separate empty-session
// branch.
type bytesEmptyReader struct{}

func (bytesEmptyReader) Read(p []byte) (int, error) { return 0, io.EOF }
