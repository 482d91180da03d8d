package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGarbageCollectDeletesOrphanedBlob(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	kept := pushTestManifest(t, repo, "v1")

	// Written straight into the global blob store, bypassing any
	// repository link, so it is orphaned from the moment it exists.
	orphan, err := reg.blobStore.put(ctx, "application/octet-stream", []byte("referenced by nothing"))
	require.NoError(t, err)

	report, err := reg.GarbageCollect(ctx, GCOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Deleted)
	require.Equal(t, orphan.Size, report.BytesReclaimed)

	ok, err := repo.Manifests().Exists(ctx, kept)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = reg.blobStore.stat(ctx, orphan.Digest)
	require.Error(t, err)
}

func TestGarbageCollectDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	orphan, err := reg.blobStore.put(ctx, "application/octet-stream", []byte("orphan for dry run"))
	require.NoError(t, err)

	report, err := reg.GarbageCollect(ctx, GCOptions{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 0, report.Deleted)
	require.Equal(t, 1, report.Orphaned)

	got, err := reg.blobStore.stat(ctx, orphan.Digest)
	require.NoError(t, err)
	require.Equal(t, orphan.Size, got.Size)
}

func TestGarbageCollectKeepsReferencedBlobs(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	pushTestManifest(t, repo, "v1")

	report, err := reg.GarbageCollect(ctx, GCOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, report.Deleted)
	require.Equal(t, 0, report.Orphaned)
}

func TestGarbageCollectSkipsBlobsYoungerThanMinAge(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	orphan, err := reg.blobStore.put(ctx, "application/octet-stream", []byte("young orphan"))
	require.NoError(t, err)

	report, err := reg.GarbageCollect(ctx, GCOptions{MinAge: time.Hour})
	require.NoError(t, err)
	require.Equal(t, 0, report.Deleted)
	require.Equal(t, 1, report.SkippedTooNew)

	got, err := reg.blobStore.stat(ctx, orphan.Digest)
	require.NoError(t, err)
	require.Equal(t, orphan.Size, got.Size)
}

func TestGarbageCollectSkipsBlobWithActiveUpload(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	orphan, err := reg.blobStore.put(ctx, "application/octet-stream", []byte("mid-commit orphan"))
	require.NoError(t, err)

	// Simulates a BlobWriter.Commit for this same digest still being in
	// flight in another goroutine when sweep runs.
	reg.activeUploads.add(orphan.Digest)
	defer reg.activeUploads.remove(orphan.Digest)

	report, err := reg.GarbageCollect(ctx, GCOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, report.Deleted)
	require.Equal(t, 1, report.SkippedActiveUpload)

	got, err := reg.blobStore.stat(ctx, orphan.Digest)
	require.NoError(t, err)
	require.Equal(t, orphan.Size, got.Size)
}
