package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReapUploadsRemovesExpiredSession(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	bw, err := repo.Blobs().NewUpload(ctx)
	require.NoError(t, err)

	reaped, err := reg.ReapUploads(ctx, -time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	_, err = repo.Blobs().Resume(ctx, bw.ID())
	require.ErrorIs(t, err, ErrBlobUploadUnknown)
}

func TestReapUploadsKeepsFreshSession(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	bw, err := repo.Blobs().NewUpload(ctx)
	require.NoError(t, err)

	reaped, err := reg.ReapUploads(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, reaped)

	_, err = repo.Blobs().Resume(ctx, bw.ID())
	require.NoError(t, err)
}

func TestReapUploadsNoRepositories(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	reaped, err := reg.ReapUploads(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, reaped)
}
