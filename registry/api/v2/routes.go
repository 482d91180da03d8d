// Package v2 holds the route table the HTTP handlers and the reverse URL
// builder both share, so a route's path is defined in exactly one place.
package v2

import (
	"github.com/gorilla/mux"

	"github.com/ocireg/registry/reference"
)

const (
	// RouteNameBase is the API version check route, GET /v2/.
	RouteNameBase = "base"

	// RouteNameManifest identifies the manifest route, C6.
	RouteNameManifest = "manifest"

	// RouteNameTags identifies the tag listing route, C7.
	RouteNameTags = "tags"

	// RouteNameBlob identifies the blob route, C5.
	RouteNameBlob = "blob"

	// RouteNameBlobUpload identifies the route that starts an upload
	// session, C4.
	RouteNameBlobUpload = "blob-upload"

	// RouteNameBlobUploadChunk identifies the route used to resume,
	// append to, and complete an upload session, C4.
	RouteNameBlobUploadChunk = "blob-upload-chunk"

	// RouteNameCatalog identifies the repository catalog route, C7.
	RouteNameCatalog = "catalog"
)

// Router returns a fresh, unprefixed v2 API router.
func Router() *mux.Router {
	return RouterWithPrefix("")
}

// RouterWithPrefix returns a v2 API router whose routes are all rooted
// under prefix + "/v2/". prefix is typically empty, but a registry can be
// mounted under a path when it sits behind a reverse proxy.
func RouterWithPrefix(prefix string) *mux.Router {
	// Names are matched case-insensitively so that a name with upper-case
	// letters still reaches the dispatcher, whose reference.ValidateName
	// check rejects it with NAME_INVALID instead of a bare 404.
	nameRE := "(?i:" + reference.NameRegexp.String() + ")"
	referenceRE := reference.ReferenceRegexp.String()
	digestRE := reference.DigestRegexp.String()

	root := mux.NewRouter().StrictSlash(true)
	rootRouter := root
	if prefix != "" {
		rootRouter = root.PathPrefix(prefix).Subrouter()
	}
	router := rootRouter.PathPrefix("/v2/").Subrouter()

	router.Path("/").Name(RouteNameBase)

	router.Path("/_catalog").Name(RouteNameCatalog)

	router.Path("/{name:" + nameRE + "}/tags/list").Name(RouteNameTags)

	router.Path("/{name:" + nameRE + "}/manifests/{reference:" + referenceRE + "}").Name(RouteNameManifest)

	router.Path("/{name:" + nameRE + "}/blobs/{digest:" + digestRE + "}").Name(RouteNameBlob)

	router.Path("/{name:" + nameRE + "}/blobs/uploads/").Name(RouteNameBlobUpload)

	router.Path("/{name:" + nameRE + "}/blobs/uploads/{uuid:[a-zA-Z0-9-_.=]+}").Name(RouteNameBlobUploadChunk)

	return root
}
