package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/digest"
)

func TestBlobUploadChunkedLifecycle(t *testing.T) {
	app := newTestApp(t)

	startReq := httptest.NewRequest(http.MethodPost, "/v2/library/chunked/blobs/uploads/", nil)
	startW := httptest.NewRecorder()
	app.ServeHTTP(startW, startReq)
	require.Equal(t, http.StatusAccepted, startW.Code)
	require.Equal(t, "0-0", startW.Header().Get("Range"))

	location := startW.Header().Get("Location")
	require.NotEmpty(t, location)

	chunk1, chunk2 := "hello ", "world"
	patch1 := httptest.NewRequest(http.MethodPatch, location, strings.NewReader(chunk1))
	patch1.Header.Set("Content-Range", "0-5/11")
	patch1W := httptest.NewRecorder()
	app.ServeHTTP(patch1W, patch1)
	require.Equal(t, http.StatusAccepted, patch1W.Code, patch1W.Body.String())
	require.Equal(t, "0-5", patch1W.Header().Get("Range"))

	statusReq := httptest.NewRequest(http.MethodGet, location, nil)
	statusW := httptest.NewRecorder()
	app.ServeHTTP(statusW, statusReq)
	require.Equal(t, http.StatusNoContent, statusW.Code)
	require.Equal(t, "0-5", statusW.Header().Get("Range"))

	// Out-of-order chunk: the session is at offset 6, so starting at 0
	// again must be rejected with 416 and the session's real offset.
	badPatch := httptest.NewRequest(http.MethodPatch, location, strings.NewReader(chunk2))
	badPatch.Header.Set("Content-Range", "0-4/11")
	badPatchW := httptest.NewRecorder()
	app.ServeHTTP(badPatchW, badPatch)
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, badPatchW.Code)
	require.Equal(t, "0-5", badPatchW.Header().Get("Range"))

	patch2 := httptest.NewRequest(http.MethodPatch, location, strings.NewReader(chunk2))
	patch2.Header.Set("Content-Range", "6-10/11")
	patch2W := httptest.NewRecorder()
	app.ServeHTTP(patch2W, patch2)
	require.Equal(t, http.StatusAccepted, patch2W.Code, patch2W.Body.String())

	full := []byte(chunk1 + chunk2)
	dgst := digest.Canonical.FromBytes(full)

	completeReq := httptest.NewRequest(http.MethodPut, location+"?digest="+dgst.String(), nil)
	completeW := httptest.NewRecorder()
	app.ServeHTTP(completeW, completeReq)
	require.Equal(t, http.StatusCreated, completeW.Code, completeW.Body.String())
	require.Equal(t, dgst.String(), completeW.Header().Get("Docker-Content-Digest"))

	getReq := httptest.NewRequest(http.MethodGet, "/v2/library/chunked/blobs/"+dgst.String(), nil)
	getW := httptest.NewRecorder()
	app.ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
	require.Equal(t, string(full), getW.Body.String())
}

func TestBlobUploadChunkedWithoutSizeSuffix(t *testing.T) {
	app := newTestApp(t)

	startReq := httptest.NewRequest(http.MethodPost, "/v2/library/nosize/blobs/uploads/", nil)
	startW := httptest.NewRecorder()
	app.ServeHTTP(startW, startReq)
	require.Equal(t, http.StatusAccepted, startW.Code)
	location := startW.Header().Get("Location")

	content := "hello"
	patch := httptest.NewRequest(http.MethodPatch, location, strings.NewReader(content))
	patch.Header.Set("Content-Range", "0-4")
	patchW := httptest.NewRecorder()
	app.ServeHTTP(patchW, patch)
	require.Equal(t, http.StatusAccepted, patchW.Code, patchW.Body.String())
	require.Equal(t, "0-4", patchW.Header().Get("Range"))
}

func TestBlobUploadCancel(t *testing.T) {
	app := newTestApp(t)

	startReq := httptest.NewRequest(http.MethodPost, "/v2/library/cancelme/blobs/uploads/", nil)
	startW := httptest.NewRecorder()
	app.ServeHTTP(startW, startReq)
	require.Equal(t, http.StatusAccepted, startW.Code)
	location := startW.Header().Get("Location")

	cancelReq := httptest.NewRequest(http.MethodDelete, location, nil)
	cancelW := httptest.NewRecorder()
	app.ServeHTTP(cancelW, cancelReq)
	require.Equal(t, http.StatusNoContent, cancelW.Code)

	statusReq := httptest.NewRequest(http.MethodGet, location, nil)
	statusW := httptest.NewRecorder()
	app.ServeHTTP(statusW, statusReq)
	require.Equal(t, http.StatusNotFound, statusW.Code)
}

func TestBlobUploadUnknownSession(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/v2/library/nouploads/blobs/uploads/does-not-exist", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBlobMountCrossRepo(t *testing.T) {
	app := newTestApp(t)
	content := []byte("shared layer content")
	dgst := pushBlob(t, app, "library/source", content)

	req := httptest.NewRequest(http.MethodPost,
		"/v2/library/dest/blobs/uploads/?mount="+dgst.String()+"&from=library/source", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, dgst.String(), w.Header().Get("Docker-Content-Digest"))

	getReq := httptest.NewRequest(http.MethodGet, "/v2/library/dest/blobs/"+dgst.String(), nil)
	getW := httptest.NewRecorder()
	app.ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
	require.Equal(t, string(content), getW.Body.String())
}

func TestBlobMountUnknownSourceDigest(t *testing.T) {
	app := newTestApp(t)
	unknown := digest.Canonical.FromBytes([]byte("never uploaded anywhere"))

	req := httptest.NewRequest(http.MethodPost,
		"/v2/library/dest2/blobs/uploads/?mount="+unknown.String()+"&from=library/source2", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
