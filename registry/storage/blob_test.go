package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	regdigest "github.com/ocireg/registry/digest"
	"github.com/ocireg/registry/manifest"
)

func pushTestBlob(t *testing.T, repo *Repository, content []byte) manifest.Descriptor {
	t.Helper()
	ctx := context.Background()

	bw, err := repo.Blobs().NewUpload(ctx)
	require.NoError(t, err)

	n, err := bw.Append(ctx, bytes.NewReader(content), -1)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), n)

	desc, err := bw.Commit(ctx, manifest.Descriptor{}, io.LimitReader(bytes.NewReader(nil), 0))
	require.NoError(t, err)
	require.Equal(t, regdigest.FromBytes(content), desc.Digest)
	require.Equal(t, int64(len(content)), desc.Size)
	return desc
}

func TestBlobUploadCommitAndStat(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	content := []byte("hello blob content")
	desc := pushTestBlob(t, repo, content)

	got, err := repo.Blobs().Stat(ctx, desc.Digest)
	require.NoError(t, err)
	require.Equal(t, desc.Digest, got.Digest)
	require.Equal(t, desc.Size, got.Size)
}

func TestBlobOpenServesContent(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	content := []byte("some content to read back")
	desc := pushTestBlob(t, repo, content)

	r, err := repo.Blobs().Open(ctx, desc.Digest, 0)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestBlobOpenAtOffset(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	content := []byte("0123456789")
	desc := pushTestBlob(t, repo, content)

	r, err := repo.Blobs().Open(ctx, desc.Digest, 5)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte("56789"), got)
}

func TestBlobStatUnknownDigest(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	_, err := repo.Blobs().Stat(ctx, regdigest.FromBytes([]byte("never uploaded")))
	require.ErrorIs(t, err, ErrBlobUnknown)
}

func TestBlobUploadAppendResumesAtCurrentSize(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	bw, err := repo.Blobs().NewUpload(ctx)
	require.NoError(t, err)

	_, err = bw.Append(ctx, bytes.NewReader([]byte("part one ")), 0)
	require.NoError(t, err)

	size, err := bw.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(len("part one ")), size)

	// Resuming the session from a fresh handle must see the same size.
	resumed, err := repo.Blobs().Resume(ctx, bw.ID())
	require.NoError(t, err)
	resumedSize, err := resumed.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, size, resumedSize)

	n, err := resumed.Append(ctx, bytes.NewReader([]byte("part two")), resumedSize)
	require.NoError(t, err)
	require.Equal(t, int64(len("part one part two")), n)

	desc, err := resumed.Commit(ctx, manifest.Descriptor{}, io.LimitReader(bytes.NewReader(nil), 0))
	require.NoError(t, err)
	require.Equal(t, regdigest.FromBytes([]byte("part one part two")), desc.Digest)
}

func TestBlobUploadAppendRejectsStaleContentRange(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	bw, err := repo.Blobs().NewUpload(ctx)
	require.NoError(t, err)

	_, err = bw.Append(ctx, bytes.NewReader([]byte("first chunk")), 0)
	require.NoError(t, err)

	_, err = bw.Append(ctx, bytes.NewReader([]byte("stale")), 0)
	require.ErrorIs(t, err, ErrContentRangeInvalid)
}

func TestBlobUploadCommitRejectsDigestMismatch(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	bw, err := repo.Blobs().NewUpload(ctx)
	require.NoError(t, err)

	_, err = bw.Append(ctx, bytes.NewReader([]byte("actual content")), -1)
	require.NoError(t, err)

	wrongDigest := regdigest.FromBytes([]byte("not the actual content"))
	_, err = bw.Commit(ctx, manifest.Descriptor{Digest: wrongDigest}, io.LimitReader(bytes.NewReader(nil), 0))
	require.ErrorIs(t, err, ErrDigestInvalid)

	// A failed commit aborts the session: resuming it must fail.
	_, err = repo.Blobs().Resume(ctx, bw.ID())
	require.ErrorIs(t, err, ErrBlobUploadUnknown)
}

func TestBlobUploadCommitDeduplicatesExistingBlob(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	content := []byte("duplicate-worthy content")
	first := pushTestBlob(t, repo, content)
	second := pushTestBlob(t, repo, content)
	require.Equal(t, first.Digest, second.Digest)

	got, err := repo.Blobs().Stat(ctx, first.Digest)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), got.Size)
}

func TestBlobResumeUnknownUpload(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	_, err := repo.Blobs().Resume(ctx, "not-a-real-session-id")
	require.ErrorIs(t, err, ErrBlobUploadUnknown)
}

func TestBlobUploadCancelAbortsSession(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	bw, err := repo.Blobs().NewUpload(ctx)
	require.NoError(t, err)

	_, err = bw.Append(ctx, bytes.NewReader([]byte("abandoned")), -1)
	require.NoError(t, err)

	require.NoError(t, bw.Cancel(ctx))

	_, err = repo.Blobs().Resume(ctx, bw.ID())
	require.ErrorIs(t, err, ErrBlobUploadUnknown)
}

func TestBlobDeleteRemovesLinkAndBlobWhenUnreferenced(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	desc := pushTestBlob(t, repo, []byte("solo reference"))

	require.NoError(t, repo.Blobs().Delete(ctx, desc.Digest))

	_, err := repo.Blobs().Stat(ctx, desc.Digest)
	require.ErrorIs(t, err, ErrBlobUnknown)
}

func TestBlobDeleteUnknownDigest(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	err := repo.Blobs().Delete(ctx, regdigest.FromBytes([]byte("never linked here")))
	require.ErrorIs(t, err, ErrBlobUnknown)
}

func TestBlobMountLinksWithoutCopying(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	source := reg.Repository("library/source")
	dest := reg.Repository("library/dest")

	desc := pushTestBlob(t, source, []byte("shared layer content"))

	mounted, err := dest.Blobs().Mount(ctx, source.Name(), desc.Digest)
	require.NoError(t, err)
	require.Equal(t, desc.Digest, mounted.Digest)

	got, err := dest.Blobs().Stat(ctx, desc.Digest)
	require.NoError(t, err)
	require.Equal(t, desc.Digest, got.Digest)
}

func TestBlobMountUnknownSourceFails(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	dest := reg.Repository("library/dest")

	_, err := dest.Blobs().Mount(ctx, "library/nonexistent", regdigest.FromBytes([]byte("nope")))
	require.ErrorIs(t, err, ErrBlobUnknown)
}

func TestBlobDeleteKeepsBlobWhileOtherRepositoryReferencesIt(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	source := reg.Repository("library/source2")
	dest := reg.Repository("library/dest2")

	desc := pushTestBlob(t, source, []byte("content referenced twice"))
	_, err := dest.Blobs().Mount(ctx, source.Name(), desc.Digest)
	require.NoError(t, err)

	require.NoError(t, source.Blobs().Delete(ctx, desc.Digest))

	// source's link is gone, but dest still references the blob, so it
	// must still be stat-able from dest.
	_, err = source.Blobs().Stat(ctx, desc.Digest)
	require.ErrorIs(t, err, ErrBlobUnknown)

	got, err := dest.Blobs().Stat(ctx, desc.Digest)
	require.NoError(t, err)
	require.Equal(t, desc.Digest, got.Digest)
}
