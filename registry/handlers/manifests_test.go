package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/configuration"
	"github.com/ocireg/registry/digest"
	"github.com/ocireg/registry/manifest"
)

// pushManifest uploads the config and layer blobs an OCI image manifest
// references, then PUTs the manifest itself by tag, returning the stored
// digest.
func pushManifest(t *testing.T, app *App, repo, tag string) digest.Digest {
	t.Helper()

	config := []byte(`{"architecture":"amd64","os":"linux"}`)
	layer := []byte("fake layer tar content")

	configDgst := pushBlob(t, app, repo, config)
	layerDgst := pushBlob(t, app, repo, layer)

	body := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"config": {"mediaType": "application/vnd.oci.image.config.v1+json", "digest": %q, "size": %d},
		"layers": [{"mediaType": "application/vnd.oci.image.layer.v1.tar", "digest": %q, "size": %d}]
	}`, manifest.MediaTypeImageManifest, configDgst.String(), len(config), layerDgst.String(), len(layer))

	req := httptest.NewRequest(http.MethodPut, "/v2/"+repo+"/manifests/"+tag, strings.NewReader(body))
	req.Header.Set("Content-Type", manifest.MediaTypeImageManifest)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return digest.Digest(w.Header().Get("Docker-Content-Digest"))
}

func TestManifestPutAndGetByTag(t *testing.T) {
	app := newTestApp(t)
	dgst := pushManifest(t, app, "library/app", "v1")

	req := httptest.NewRequest(http.MethodGet, "/v2/library/app/manifests/v1", nil)
	req.Header.Set("Accept", manifest.MediaTypeImageManifest)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, dgst.String(), w.Header().Get("Docker-Content-Digest"))
	require.Equal(t, manifest.MediaTypeImageManifest, w.Header().Get("Content-Type"))
}

func TestManifestGetByDigest(t *testing.T) {
	app := newTestApp(t)
	dgst := pushManifest(t, app, "library/bydigest", "latest")

	req := httptest.NewRequest(http.MethodGet, "/v2/library/bydigest/manifests/"+dgst.String(), nil)
	req.Header.Set("Accept", manifest.MediaTypeImageManifest)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestManifestGetNotAcceptable(t *testing.T) {
	app := newTestApp(t)
	pushManifest(t, app, "library/notaccept", "v1")

	req := httptest.NewRequest(http.MethodGet, "/v2/library/notaccept/manifests/v1", nil)
	req.Header.Set("Accept", "application/vnd.docker.distribution.manifest.v1+json")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotAcceptable, w.Code)
}

func TestManifestGetUnknownTag(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/v2/library/empty/manifests/missing", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestManifestPutRejectsUnknownReferencedBlob(t *testing.T) {
	app := newTestApp(t)
	missing := digest.Canonical.FromBytes([]byte("not uploaded"))

	body := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"config": {"mediaType": "application/vnd.oci.image.config.v1+json", "digest": %q, "size": 2},
		"layers": []
	}`, manifest.MediaTypeImageManifest, missing.String())

	req := httptest.NewRequest(http.MethodPut, "/v2/library/badref/manifests/v1", strings.NewReader(body))
	req.Header.Set("Content-Type", manifest.MediaTypeImageManifest)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestManifestPutRejectsUnsupportedContentType(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPut, "/v2/library/badtype/manifests/v1", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/x-not-a-manifest")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestManifestDeleteByTagUnsupported(t *testing.T) {
	app := newTestApp(t)
	pushManifest(t, app, "library/deltag", "v1")

	req := httptest.NewRequest(http.MethodDelete, "/v2/library/deltag/manifests/v1", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestManifestDeleteByDigest(t *testing.T) {
	app := newTestApp(t)
	dgst := pushManifest(t, app, "library/deldigest", "v1")

	req := httptest.NewRequest(http.MethodDelete, "/v2/library/deldigest/manifests/"+dgst.String(), nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/v2/library/deldigest/manifests/"+dgst.String(), nil)
	getW := httptest.NewRecorder()
	app.ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusNotFound, getW.Code)
}

func TestManifestDeleteByDigestCascadesUntagsEveryTag(t *testing.T) {
	app := newTestApp(t)

	config := []byte(`{"architecture":"amd64","os":"linux"}`)
	layer := []byte("shared layer content")
	configDgst := pushBlob(t, app, "library/cascade", config)
	layerDgst := pushBlob(t, app, "library/cascade", layer)

	body := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"config": {"mediaType": "application/vnd.oci.image.config.v1+json", "digest": %q, "size": %d},
		"layers": [{"mediaType": "application/vnd.oci.image.layer.v1.tar", "digest": %q, "size": %d}]
	}`, manifest.MediaTypeImageManifest, configDgst.String(), len(config), layerDgst.String(), len(layer))

	var dgst digest.Digest
	for _, tag := range []string{"v1", "v2", "latest"} {
		req := httptest.NewRequest(http.MethodPut, "/v2/library/cascade/manifests/"+tag, strings.NewReader(body))
		req.Header.Set("Content-Type", manifest.MediaTypeImageManifest)
		w := httptest.NewRecorder()
		app.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		dgst = digest.Digest(w.Header().Get("Docker-Content-Digest"))
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/v2/library/cascade/manifests/"+dgst.String(), nil)
	delW := httptest.NewRecorder()
	app.ServeHTTP(delW, delReq)
	require.Equal(t, http.StatusAccepted, delW.Code)

	tagsReq := httptest.NewRequest(http.MethodGet, "/v2/library/cascade/tags/list", nil)
	tagsW := httptest.NewRecorder()
	app.ServeHTTP(tagsW, tagsReq)
	require.Equal(t, http.StatusOK, tagsW.Code)
	require.JSONEq(t, `{"name":"library/cascade","tags":null}`, tagsW.Body.String())
}

func TestManifestGetSetsEtagAndHonorsIfNoneMatch(t *testing.T) {
	app := newTestApp(t)
	dgst := pushManifest(t, app, "library/etag", "v1")

	req := httptest.NewRequest(http.MethodGet, "/v2/library/etag/manifests/v1", nil)
	req.Header.Set("Accept", manifest.MediaTypeImageManifest)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `"`+dgst.String()+`"`, w.Header().Get("Etag"))

	condReq := httptest.NewRequest(http.MethodGet, "/v2/library/etag/manifests/v1", nil)
	condReq.Header.Set("Accept", manifest.MediaTypeImageManifest)
	condReq.Header.Set("If-None-Match", dgst.String())
	condW := httptest.NewRecorder()
	app.ServeHTTP(condW, condReq)

	require.Equal(t, http.StatusNotModified, condW.Code)
	require.Empty(t, condW.Body.String())
}

func TestManifestGetIfNoneMatchMismatchServesBody(t *testing.T) {
	app := newTestApp(t)
	pushManifest(t, app, "library/etagmiss", "v1")

	req := httptest.NewRequest(http.MethodGet, "/v2/library/etagmiss/manifests/v1", nil)
	req.Header.Set("Accept", manifest.MediaTypeImageManifest)
	req.Header.Set("If-None-Match", `"sha256:`+strings.Repeat("0", 64)+`"`)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())
}

// newPolicyTestApp builds an App identical to newTestApp but with the
// repository-class policy configured to only accept classes.
func newPolicyTestApp(t *testing.T, classes ...string) *App {
	t.Helper()

	config := configuration.Configuration{
		Storage: configuration.Storage{
			"filesystem": configuration.Parameters{"rootdirectory": t.TempDir()},
		},
		Catalog: configuration.Catalog{DefaultLimit: 100, MaxLimit: 1000},
		Upload:  configuration.Upload{Timeout: time.Minute},
		Policy: configuration.Policy{
			Repository: configuration.Repository{Classes: classes},
		},
	}

	return NewApp(context.Background(), config)
}

func TestManifestPutAllowedByResourcePolicy(t *testing.T) {
	app := newPolicyTestApp(t, "image")
	pushManifest(t, app, "library/allowedclass", "v1")
}

func TestManifestPutDeniedByResourcePolicy(t *testing.T) {
	app := newPolicyTestApp(t, "plugin")

	config := []byte(`{"architecture":"amd64","os":"linux"}`)
	layer := []byte("fake layer tar content")

	configDgst := pushBlob(t, app, "library/deniedclass", config)
	layerDgst := pushBlob(t, app, "library/deniedclass", layer)

	body := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"config": {"mediaType": "application/vnd.oci.image.config.v1+json", "digest": %q, "size": %d},
		"layers": [{"mediaType": "application/vnd.oci.image.layer.v1.tar", "digest": %q, "size": %d}]
	}`, manifest.MediaTypeImageManifest, configDgst.String(), len(config), layerDgst.String(), len(layer))

	req := httptest.NewRequest(http.MethodPut, "/v2/library/deniedclass/manifests/v1", strings.NewReader(body))
	req.Header.Set("Content-Type", manifest.MediaTypeImageManifest)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
}
