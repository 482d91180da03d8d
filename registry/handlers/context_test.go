package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/internal/dcontext"
)

func TestGetName(t *testing.T) {
	ctx := dcontext.WithVars(context.Background(), map[string]string{"name": "library/app"})
	require.Equal(t, "library/app", getName(ctx))
}

func TestGetReference(t *testing.T) {
	ctx := dcontext.WithVars(context.Background(), map[string]string{"reference": "v1"})
	require.Equal(t, "v1", getReference(ctx))
}

func TestGetUploadUUID(t *testing.T) {
	ctx := dcontext.WithVars(context.Background(), map[string]string{"uuid": "abc-123"})
	require.Equal(t, "abc-123", getUploadUUID(ctx))
}

func TestGetDigest(t *testing.T) {
	want := "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"
	ctx := dcontext.WithVars(context.Background(), map[string]string{"digest": want})

	dgst, err := getDigest(ctx)
	require.NoError(t, err)
	require.Equal(t, want, dgst.String())
}

func TestGetDigestMissing(t *testing.T) {
	_, err := getDigest(context.Background())
	require.ErrorIs(t, err, errDigestNotAvailable)
}

func TestGetDigestMalformed(t *testing.T) {
	ctx := dcontext.WithVars(context.Background(), map[string]string{"digest": "not-a-digest"})
	_, err := getDigest(ctx)
	require.Error(t, err)
}

func TestResolveTagOrDigest(t *testing.T) {
	isTag, ok := resolveTagOrDigest("latest")
	require.True(t, ok)
	require.True(t, isTag)

	isTag, ok = resolveTagOrDigest("sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85")
	require.True(t, ok)
	require.False(t, isTag)

	_, ok = resolveTagOrDigest("not a valid reference!!")
	require.False(t, ok)
}
