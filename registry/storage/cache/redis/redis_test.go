package redis

import (
	"context"
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/manifest"
)

var redisAddr string

func init() {
	flag.StringVar(&redisAddr, "test.registry.storage.cache.redis.addr", "", "address of a live redis instance to test against")
}

// TestRedisBlobDescriptorCacheProvider exercises a live redis instance;
// skipped unless one is configured, matching the teacher's opt-in pattern
// for tests that need real infrastructure.
func TestRedisBlobDescriptorCacheProvider(t *testing.T) {
	addr := redisAddr
	if addr == "" {
		addr = os.Getenv("TEST_REGISTRY_STORAGE_CACHE_REDIS_ADDR")
	}
	if addr == "" {
		t.Skip("set -test.registry.storage.cache.redis.addr to test the cache against redis")
	}

	ctx := context.Background()
	provider, err := NewBlobDescriptorCacheProvider(ctx, map[string]interface{}{"addr": addr})
	require.NoError(t, err)

	desc := manifest.Descriptor{
		MediaType: "application/vnd.oci.image.layer.v1.tar+gzip",
		Digest:    "sha256:1111111111111111111111111111111111111111111111111111111111111111",
		Size:      1024,
	}

	require.NoError(t, provider.SetDescriptor(ctx, desc.Digest, desc))

	got, err := provider.Stat(ctx, desc.Digest)
	require.NoError(t, err)
	require.Equal(t, desc, got)

	require.NoError(t, provider.Clear(ctx, desc.Digest))
	_, err = provider.Stat(ctx, desc.Digest)
	require.Error(t, err)
}

func TestMissingAddr(t *testing.T) {
	_, err := NewBlobDescriptorCacheProvider(context.Background(), nil)
	require.ErrorIs(t, err, ErrMissingAddr)
}
