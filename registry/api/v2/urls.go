package v2

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
)

// URLBuilder constructs absolute URLs for the named routes in this package,
// so a handler never hand-assembles a path string that could drift out of
// sync with the route table.
type URLBuilder struct {
	root   *url.URL
	router *mux.Router
}

// NewURLBuilder returns a URLBuilder rooted at root.
func NewURLBuilder(root *url.URL) *URLBuilder {
	return &URLBuilder{root: root, router: Router()}
}

// NewURLBuilderFromRequest infers a URLBuilder's scheme and host from r,
// honoring the X-Forwarded-Proto and X-Forwarded-Host headers a reverse
// proxy sets in front of the registry.
func NewURLBuilderFromRequest(r *http.Request) *URLBuilder {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}

	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	return NewURLBuilder(&url.URL{Scheme: scheme, Host: host})
}

// BuildBaseURL builds the API version check route, GET /v2/.
func (ub *URLBuilder) BuildBaseURL() (string, error) {
	return ub.build(RouteNameBase, nil)
}

// BuildCatalogURL builds the repository catalog route, optionally followed
// by a "n"/"last" pagination query.
func (ub *URLBuilder) BuildCatalogURL(values ...url.Values) (string, error) {
	return ub.build(RouteNameCatalog, mergeValues(values...))
}

// BuildTagsURL builds the tag listing route for name.
func (ub *URLBuilder) BuildTagsURL(name string, values ...url.Values) (string, error) {
	return ub.build(RouteNameTags, mergeValues(values...), "name", name)
}

// BuildManifestURL builds the manifest route for name at ref, which may be
// either a tag or a digest.
func (ub *URLBuilder) BuildManifestURL(name, ref string) (string, error) {
	return ub.build(RouteNameManifest, nil, "name", name, "reference", ref)
}

// BuildBlobURL builds the blob route for name at digest.
func (ub *URLBuilder) BuildBlobURL(name, dgst string) (string, error) {
	return ub.build(RouteNameBlob, nil, "name", name, "digest", dgst)
}

// BuildBlobUploadURL builds the upload-start route for name, optionally
// carrying a "digest" query for the single-request monolithic upload.
func (ub *URLBuilder) BuildBlobUploadURL(name string, values ...url.Values) (string, error) {
	return ub.build(RouteNameBlobUpload, mergeValues(values...), "name", name)
}

// BuildBlobUploadChunkURL builds the resume/append/complete route for an
// open upload session.
func (ub *URLBuilder) BuildBlobUploadChunkURL(name, uuid string, values ...url.Values) (string, error) {
	return ub.build(RouteNameBlobUploadChunk, mergeValues(values...), "name", name, "uuid", uuid)
}

func (ub *URLBuilder) build(routeName string, query url.Values, pairs ...string) (string, error) {
	route := ub.router.GetRoute(routeName)
	if route == nil {
		return "", errRouteNotFound(routeName)
	}

	routeURL, err := route.URL(pairs...)
	if err != nil {
		return "", err
	}

	ref := &url.URL{Path: routeURL.Path, RawQuery: query.Encode()}
	return ub.root.ResolveReference(ref).String(), nil
}

func mergeValues(values ...url.Values) url.Values {
	merged := url.Values{}
	for _, v := range values {
		for k, vv := range v {
			merged[k] = append(merged[k], vv...)
		}
	}
	return merged
}

type errRouteNotFound string

func (e errRouteNotFound) Error() string {
	return "v2: no route named " + string(e)
}
