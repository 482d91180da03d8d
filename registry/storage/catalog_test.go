package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogListsSortedAndPaginated(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	for _, name := range []string{"library/c", "library/a", "library/b"} {
		pushTestManifest(t, reg.Repository(name), "latest")
	}

	repos, more, err := reg.Catalog(ctx, "", 100)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []string{"library/a", "library/b", "library/c"}, repos)

	page, more, err := reg.Catalog(ctx, "", 2)
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []string{"library/a", "library/b"}, page)

	rest, more, err := reg.Catalog(ctx, "library/b", 2)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []string{"library/c"}, rest)
}

func TestCatalogEmptyWhenNoRepositories(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	repos, more, err := reg.Catalog(ctx, "", 100)
	require.NoError(t, err)
	require.False(t, more)
	require.Empty(t, repos)
}

func TestCatalogDefaultAndMaxPageSize(t *testing.T) {
	reg := newTestRegistry(t)
	require.Equal(t, 100, reg.DefaultPageSize())
	require.Equal(t, 1000, reg.MaxPageSize())
}

func TestCountBlobReferencesAcrossRepositories(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	source := reg.Repository("library/source")
	dest := reg.Repository("library/dest")

	desc := pushTestBlob(t, source, []byte("shared"))
	refs, err := reg.countBlobReferences(ctx, desc.Digest)
	require.NoError(t, err)
	require.Equal(t, 1, refs)

	_, err = dest.Blobs().Mount(ctx, source.Name(), desc.Digest)
	require.NoError(t, err)

	refs, err = reg.countBlobReferences(ctx, desc.Digest)
	require.NoError(t, err)
	require.Equal(t, 2, refs)
}
