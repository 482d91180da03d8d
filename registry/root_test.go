package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/configuration"
	_ "github.com/ocireg/registry/registry/storage/cache/memory"
)

func TestGetGCCacheProviderNoStorageCacheSection(t *testing.T) {
	config := &configuration.Configuration{}

	provider, err := getGCCacheProvider(context.Background(), config)
	require.NoError(t, err)
	require.Nil(t, provider)
}

func TestGetGCCacheProviderEmptyBackendName(t *testing.T) {
	config := &configuration.Configuration{
		Storage: configuration.Storage{
			"cache": configuration.Parameters{"blobdescriptor": ""},
		},
	}

	provider, err := getGCCacheProvider(context.Background(), config)
	require.NoError(t, err)
	require.Nil(t, provider)
}

func TestGetGCCacheProviderRedisRequiresAddrs(t *testing.T) {
	config := &configuration.Configuration{
		Storage: configuration.Storage{
			"cache": configuration.Parameters{"blobdescriptor": "redis"},
		},
	}

	_, err := getGCCacheProvider(context.Background(), config)
	require.Error(t, err)
}

func TestGetGCCacheProviderLayerinfoBackwardsCompatKey(t *testing.T) {
	config := &configuration.Configuration{
		Storage: configuration.Storage{
			"cache": configuration.Parameters{"layerinfo": "inmemory"},
		},
	}

	provider, err := getGCCacheProvider(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, provider)
}
