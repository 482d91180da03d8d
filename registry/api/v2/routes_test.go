package v2

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type routeTestCase struct {
	name       string
	requestURI string
	routeName  string
	statusCode int
	vars       map[string]string
}

func TestRouter(t *testing.T) {
	tests := []routeTestCase{
		{
			name:       "base",
			requestURI: "/v2/",
			routeName:  RouteNameBase,
			vars:       map[string]string{},
		},
		{
			name:       "catalog",
			requestURI: "/v2/_catalog",
			routeName:  RouteNameCatalog,
			vars:       map[string]string{},
		},
		{
			name:       "manifest by tag",
			requestURI: "/v2/foo/bar/manifests/latest",
			routeName:  RouteNameManifest,
			vars:       map[string]string{"name": "foo/bar", "reference": "latest"},
		},
		{
			name:       "manifest by digest",
			requestURI: "/v2/foo/bar/manifests/sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85",
			routeName:  RouteNameManifest,
			vars:       map[string]string{"name": "foo/bar", "reference": "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"},
		},
		{
			name:       "tags list",
			requestURI: "/v2/docker.com/foo/bar/tags/list",
			routeName:  RouteNameTags,
			vars:       map[string]string{"name": "docker.com/foo/bar"},
		},
		{
			name:       "blob",
			requestURI: "/v2/foo/bar/blobs/sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85",
			routeName:  RouteNameBlob,
			vars:       map[string]string{"name": "foo/bar", "digest": "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"},
		},
		{
			name:       "blob upload start",
			requestURI: "/v2/foo/bar/blobs/uploads/",
			routeName:  RouteNameBlobUpload,
			vars:       map[string]string{"name": "foo/bar"},
		},
		{
			name:       "blob upload chunk",
			requestURI: "/v2/foo/bar/blobs/uploads/d95306fa-fad3-4e36-8d41-cf1c93ef8286",
			routeName:  RouteNameBlobUploadChunk,
			vars:       map[string]string{"name": "foo/bar", "uuid": "d95306fa-fad3-4e36-8d41-cf1c93ef8286"},
		},
		{
			name:       "blob upload chunk with junk id",
			requestURI: "/v2/foo/bar/blobs/uploads/totally*not*a*uuid",
			routeName:  RouteNameBlobUploadChunk,
			statusCode: http.StatusNotFound,
		},
	}

	router := RouterWithPrefix("")

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Route-Name", mux.CurrentRoute(r).GetName())
		for k, v := range mux.Vars(r) {
			w.Header().Add("X-Var-"+k, v)
		}
	})

	server := httptest.NewServer(router)
	defer server.Close()

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			route := router.GetRoute(tc.routeName)
			require.NotNil(t, route)
			route.Handler(testHandler)

			resp, err := http.Get(server.URL + tc.requestURI)
			require.NoError(t, err)
			defer resp.Body.Close()

			expected := tc.statusCode
			if expected == 0 {
				expected = http.StatusOK
			}
			require.Equal(t, expected, resp.StatusCode)

			if expected != http.StatusOK {
				return
			}

			require.Equal(t, tc.routeName, resp.Header.Get("X-Route-Name"))
			for k, v := range tc.vars {
				require.Equal(t, v, resp.Header.Get("X-Var-"+k))
			}
		})
	}
}

func TestRouterWithPrefix(t *testing.T) {
	router := RouterWithPrefix("/prefix/")

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	server := httptest.NewServer(router)
	defer server.Close()

	route := router.GetRoute(RouteNameBase)
	require.NotNil(t, route)
	route.Handler(testHandler)

	resp, err := http.Get(server.URL + "/prefix/v2/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
