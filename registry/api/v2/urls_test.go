package v2

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLBuilder(t *testing.T) {
	root, err := url.Parse("https://registry.example.com")
	require.NoError(t, err)
	ub := NewURLBuilder(root)

	base, err := ub.BuildBaseURL()
	require.NoError(t, err)
	require.Equal(t, "https://registry.example.com/v2/", base)

	manifestURL, err := ub.BuildManifestURL("foo/bar", "latest")
	require.NoError(t, err)
	require.Equal(t, "https://registry.example.com/v2/foo/bar/manifests/latest", manifestURL)

	blobURL, err := ub.BuildBlobURL("foo/bar", "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85")
	require.NoError(t, err)
	require.Equal(t, "https://registry.example.com/v2/foo/bar/blobs/sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85", blobURL)

	uploadURL, err := ub.BuildBlobUploadURL("foo/bar")
	require.NoError(t, err)
	require.Equal(t, "https://registry.example.com/v2/foo/bar/blobs/uploads/", uploadURL)

	chunkURL, err := ub.BuildBlobUploadChunkURL("foo/bar", "d95306fa-fad3-4e36-8d41-cf1c93ef8286")
	require.NoError(t, err)
	require.Equal(t, "https://registry.example.com/v2/foo/bar/blobs/uploads/d95306fa-fad3-4e36-8d41-cf1c93ef8286", chunkURL)

	catalogURL, err := ub.BuildCatalogURL(url.Values{"n": []string{"10"}})
	require.NoError(t, err)
	require.Equal(t, "https://registry.example.com/v2/_catalog?n=10", catalogURL)
}

func TestURLBuilderFromRequestHonorsForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "http://internal:5000/v2/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "registry.example.com")

	ub := NewURLBuilderFromRequest(req)
	base, err := ub.BuildBaseURL()
	require.NoError(t, err)
	require.Equal(t, "https://registry.example.com/v2/", base)
}
