package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/registry/storage/cache"
)

const testDigest = "sha256:1111111111111111111111111111111111111111111111111111111111111111"

func TestGlobalCache(t *testing.T) {
	ctx := context.Background()
	provider, err := NewBlobDescriptorCacheProvider(ctx, nil)
	require.NoError(t, err)

	_, err = provider.Stat(ctx, testDigest)
	require.ErrorIs(t, err, cache.ErrBlobUnknown)

	desc := manifest.Descriptor{MediaType: "application/vnd.oci.image.layer.v1.tar+gzip", Digest: testDigest, Size: 10}
	require.NoError(t, provider.SetDescriptor(ctx, testDigest, desc))

	got, err := provider.Stat(ctx, testDigest)
	require.NoError(t, err)
	require.Equal(t, desc, got)

	require.NoError(t, provider.Clear(ctx, testDigest))
	_, err = provider.Stat(ctx, testDigest)
	require.ErrorIs(t, err, cache.ErrBlobUnknown)
}

func TestRepositoryScopedCache(t *testing.T) {
	ctx := context.Background()
	provider, err := NewBlobDescriptorCacheProvider(ctx, nil)
	require.NoError(t, err)

	scoped, err := provider.RepositoryScoped("library/ubuntu")
	require.NoError(t, err)

	desc := manifest.Descriptor{MediaType: "application/vnd.oci.image.layer.v1.tar+gzip", Digest: testDigest, Size: 10}
	require.NoError(t, scoped.SetDescriptor(ctx, testDigest, desc))

	got, err := scoped.Stat(ctx, testDigest)
	require.NoError(t, err)
	require.Equal(t, desc, got)

	globalGot, err := provider.Stat(ctx, testDigest)
	require.NoError(t, err)
	require.Equal(t, desc, globalGot)

	other, err := provider.RepositoryScoped("library/alpine")
	require.NoError(t, err)
	_, err = other.Stat(ctx, testDigest)
	require.ErrorIs(t, err, cache.ErrBlobUnknown)
}

func TestInvalidDescriptor(t *testing.T) {
	ctx := context.Background()
	provider, err := NewBlobDescriptorCacheProvider(ctx, nil)
	require.NoError(t, err)

	err = provider.SetDescriptor(ctx, testDigest, manifest.Descriptor{Digest: testDigest, Size: -1})
	require.Error(t, err)
}
