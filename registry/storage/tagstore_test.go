package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	regdigest "github.com/ocireg/registry/digest"
)

func TestTagsAllListsSortedAndPaginated(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	for _, tag := range []string{"v3", "v1", "v2"} {
		pushTestManifest(t, repo, tag)
	}

	tags, more, err := repo.Tags().All(ctx, "", 100)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []string{"v1", "v2", "v3"}, tags)

	page, more, err := repo.Tags().All(ctx, "", 2)
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []string{"v1", "v2"}, page)

	rest, more, err := repo.Tags().All(ctx, "v2", 2)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, []string{"v3"}, rest)
}

func TestTagsAllUnknownRepository(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/never-pushed")

	_, _, err := repo.Tags().All(ctx, "", 100)
	require.ErrorIs(t, err, ErrNameUnknown)
}

func TestTagsUntagRemovesTagNotRevision(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	dgst := pushTestManifest(t, repo, "v1")

	require.NoError(t, repo.Tags().Untag(ctx, "v1"))

	tags, _, err := repo.Tags().All(ctx, "", 100)
	require.NoError(t, err)
	require.Empty(t, tags)

	ok, err := repo.Manifests().Exists(ctx, dgst)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTagsListStillShowsTagAfterRevisionUnlinked(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	dgst := pushTestManifest(t, repo, "v1")
	require.NoError(t, repo.Manifests().Delete(ctx, dgst))

	// Deleting a manifest revision only removes that revision's link; the
	// tag's own current/link pointer is untouched, so the tag still lists
	// (dangling) even though it no longer resolves.
	tags, _, err := repo.Tags().All(ctx, "", 100)
	require.NoError(t, err)
	require.Equal(t, []string{"v1"}, tags)

	_, _, _, err = repo.Manifests().Get(ctx, "v1")
	require.ErrorIs(t, err, ErrManifestUnknown)
}

func TestTagsLookupFindsAllTagsPointingAtDigest(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	config := pushTestBlob(t, repo, []byte(`{"architecture":"amd64"}`))
	layer := pushTestBlob(t, repo, []byte("shared layer content"))
	mt, body, dgst := buildTestManifest(t, config, layer)

	for _, tag := range []string{"v1", "v2", "latest"} {
		got, err := repo.Manifests().Put(ctx, tag, mt, body)
		require.NoError(t, err)
		require.Equal(t, dgst, got)
	}

	matches, err := repo.Tags().Lookup(ctx, dgst)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"v1", "v2", "latest"}, matches)

	require.NoError(t, repo.Tags().Untag(ctx, "v1"))

	remaining, err := repo.Tags().Lookup(ctx, dgst)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"v2", "latest"}, remaining)
}

func TestTagsLookupNoMatches(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	repo := reg.Repository("library/app")

	pushTestManifest(t, repo, "v1")
	unrelated := regdigest.FromBytes([]byte("never pushed"))

	matches, err := repo.Tags().Lookup(ctx, unrelated)
	require.NoError(t, err)
	require.Empty(t, matches)
}
