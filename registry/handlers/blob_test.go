package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/digest"
)

// pushBlob drives a monolithic single-request upload to completion and
// returns the digest the registry stored it under.
func pushBlob(t *testing.T, app *App, repo string, content []byte) digest.Digest {
	t.Helper()

	dgst := digest.Canonical.FromBytes(content)

	req := httptest.NewRequest(http.MethodPost,
		"/v2/"+repo+"/blobs/uploads/?digest="+dgst.String(), strings.NewReader(string(content)))
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, dgst.String(), w.Header().Get("Docker-Content-Digest"))

	return dgst
}

func TestBlobGetAndHead(t *testing.T) {
	app := newTestApp(t)
	content := []byte("hello blob content")
	dgst := pushBlob(t, app, "library/hello", content)

	req := httptest.NewRequest(http.MethodGet, "/v2/library/hello/blobs/"+dgst.String(), nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, dgst.String(), w.Header().Get("Docker-Content-Digest"))
	require.Equal(t, string(content), w.Body.String())

	headReq := httptest.NewRequest(http.MethodHead, "/v2/library/hello/blobs/"+dgst.String(), nil)
	headW := httptest.NewRecorder()
	app.ServeHTTP(headW, headReq)
	require.Equal(t, http.StatusOK, headW.Code)
	require.Equal(t, "18", headW.Header().Get("Content-Length"))
}

func TestBlobGetUnknownDigest(t *testing.T) {
	app := newTestApp(t)
	unknown := digest.Canonical.FromBytes([]byte("never uploaded"))

	req := httptest.NewRequest(http.MethodGet, "/v2/library/hello/blobs/"+unknown.String(), nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBlobGetRange(t *testing.T) {
	app := newTestApp(t)
	content := []byte("0123456789")
	dgst := pushBlob(t, app, "library/range", content)

	req := httptest.NewRequest(http.MethodGet, "/v2/library/range/blobs/"+dgst.String(), nil)
	req.Header.Set("Range", "bytes=2-5")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "bytes 2-5/10", w.Header().Get("Content-Range"))
	require.Equal(t, "2345", w.Body.String())
}

func TestBlobGetRangeOutOfBounds(t *testing.T) {
	app := newTestApp(t)
	content := []byte("0123456789")
	dgst := pushBlob(t, app, "library/range2", content)

	req := httptest.NewRequest(http.MethodGet, "/v2/library/range2/blobs/"+dgst.String(), nil)
	req.Header.Set("Range", "bytes=100-200")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	require.Equal(t, "bytes */10", w.Header().Get("Content-Range"))
}

func TestBlobDelete(t *testing.T) {
	app := newTestApp(t)
	content := []byte("delete me")
	dgst := pushBlob(t, app, "library/deleteme", content)

	req := httptest.NewRequest(http.MethodDelete, "/v2/library/deleteme/blobs/"+dgst.String(), nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/v2/library/deleteme/blobs/"+dgst.String(), nil)
	getW := httptest.NewRecorder()
	app.ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusNotFound, getW.Code)
}

func TestBlobGetMalformedDigest(t *testing.T) {
	app := newTestApp(t)

	// Matches the route's digest pattern (an algorithm-prefixed hex blob)
	// but is the wrong length for sha256, so digest.Parse rejects it.
	req := httptest.NewRequest(http.MethodGet, "/v2/library/hello/blobs/sha256:"+strings.Repeat("a", 40), nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
