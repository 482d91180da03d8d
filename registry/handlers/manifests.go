package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"sync"

	gorillahandlers "github.com/gorilla/handlers"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	ocidigest "github.com/ocireg/registry/digest"
	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/registry/api/errcode"
	"github.com/ocireg/registry/registry/storage"
)

// manifest "classes" the repository-class policy recognizes, matched
// against a manifest's config descriptor media type.
const (
	manifestClassImage  = "image"
	manifestClassPlugin = "plugin"

	mediaTypeDockerPluginConfig = "application/vnd.docker.plugin.v1+json"
)

// maxManifestBodyBytes bounds a manifest PUT body. Manifests are small,
// structured documents, never raw layer content, so unlike a blob upload
// this one is buffered in full before validation per spec 4.6.
const maxManifestBodyBytes = 4 << 20

// manifestDispatcher handles C6: storing and retrieving manifests by tag
// or by digest.
func manifestDispatcher(ctx *Context, r *http.Request) http.Handler {
	mh := &manifestHandler{Context: ctx, Reference: getReference(ctx)}

	isTag, ok := resolveTagOrDigest(mh.Reference)
	if !ok {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeNameInvalid.WithDetail("malformed reference"))
			w.WriteHeader(http.StatusBadRequest)
		})
	}
	mh.IsTag = isTag

	return gorillahandlers.MethodHandler{
		http.MethodGet:    http.HandlerFunc(mh.GetManifest),
		http.MethodHead:   http.HandlerFunc(mh.GetManifest),
		http.MethodPut:    http.HandlerFunc(mh.PutManifest),
		http.MethodDelete: http.HandlerFunc(mh.DeleteManifest),
	}
}

type manifestHandler struct {
	*Context

	// Reference is the {reference} path segment, either a tag name or a
	// digest string.
	Reference string
	IsTag     bool
}

// GetManifest resolves Reference to a stored manifest and serves it,
// rejecting the request with 406 MANIFEST_UNACCEPTABLE if the client's
// Accept header matches none of the manifest's stored media type.
func (mh *manifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	manifests := mh.Repository.Manifests()

	mediaType, payload, dgst, err := manifests.Get(mh, mh.Reference)
	if err != nil {
		mh.manifestError(w, err)
		return
	}

	if !acceptsMediaType(r, mediaType) {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestUnacceptable.WithDetail(mediaType))
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.Header().Set("Etag", fmt.Sprintf(`"%s"`, dgst))

	if etagMatch(r, dgst.String()) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := w.Write(payload); err != nil {
		dcontext.GetLogger(mh).Errorf("error writing manifest response: %v", err)
	}
}

// PutManifest validates and stores a manifest under Reference, enforcing
// I2's referenced-blob existence check and the digest-matches-body rule
// when Reference is itself a digest.
func (mh *manifestHandler) PutManifest(w http.ResponseWriter, r *http.Request) {
	manifests := mh.Repository.Manifests()

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !manifestMediaTypeSupported(mediaType) {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnsupported.WithDetail("unsupported manifest media type"))
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	var body bytes.Buffer
	if _, err := copyFullPayload(w, r, &body, maxManifestBodyBytes); err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if bodyMediaType := detectManifestMediaType(body.Bytes()); bodyMediaType != "" && bodyMediaType != mediaType {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail("mediaType in body does not match Content-Type"))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if len(mh.AllowedManifestClasses) > 0 {
		if err := mh.applyResourcePolicy(mediaType, body.Bytes()); err != nil {
			mh.Errors = append(mh.Errors, err)
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	dgst, err := manifests.Put(mh, mh.Reference, mediaType, body.Bytes())
	if err != nil {
		mh.manifestPutError(w, err)
		return
	}

	location, err := mh.urlBuilder.BuildManifestURL(mh.Repository.Name(), dgst.String())
	if err != nil {
		dcontext.GetLogger(mh).Errorf("error building manifest url: %v", err)
	}

	w.Header().Set("Location", location)
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.WriteHeader(http.StatusCreated)
}

// DeleteManifest removes the manifest revision Reference names. Per spec
// 4.6, deletion by tag is refused with UNSUPPORTED (415) — only a digest
// reference may be deleted.
func (mh *manifestHandler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	if mh.IsTag {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnsupported.WithDetail("manifests must be deleted by digest"))
		w.WriteHeader(errcode.ErrorCodeUnsupported.Descriptor().HTTPStatusCode)
		return
	}

	dgst, err := ocidigest.Parse(mh.Reference)
	if err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := mh.Repository.Manifests().Delete(mh, dgst); err != nil {
		mh.manifestError(w, err)
		return
	}

	// Deleting the revision leaves any tag that pointed at it dangling;
	// cascade the untag across every such tag, fanned out the same way
	// GC's mark phase bounds its own per-repository concurrency.
	tags := mh.Repository.Tags()
	referencedTags, err := tags.Lookup(mh, dgst)
	if err != nil {
		dcontext.GetLogger(mh).Errorf("error looking up tags for %s: %v", dgst, err)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := errgroup.Group{}
	g.SetLimit(storage.DefaultConcurrencyLimit)
	for _, tag := range referencedTags {
		tag := tag
		g.Go(func() error {
			if err := tags.Untag(mh, tag); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		dcontext.GetLogger(mh).Errorf("error untagging after manifest delete: %v", err)
	}

	w.WriteHeader(http.StatusAccepted)
}

func (mh *manifestHandler) manifestError(w http.ResponseWriter, err error) {
	switch {
	case isErr(err, storage.ErrManifestUnknown):
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestUnknown.WithDetail(mh.Reference))
		w.WriteHeader(http.StatusNotFound)
	default:
		dcontext.GetLogger(mh).Errorf("error resolving manifest %s: %v", mh.Reference, err)
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (mh *manifestHandler) manifestPutError(w http.ResponseWriter, err error) {
	switch {
	case isErr(err, storage.ErrManifestInvalid):
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
		w.WriteHeader(http.StatusBadRequest)
	case isErr(err, storage.ErrDigestInvalid):
		mh.Errors = append(mh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		w.WriteHeader(http.StatusBadRequest)
	case isErr(err, storage.ErrManifestBlobUnknown):
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestBlobUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusNotFound)
	default:
		dcontext.GetLogger(mh).Errorf("error storing manifest %s: %v", mh.Reference, err)
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// etagMatch reports whether any If-None-Match value the client sent
// matches etag, accepting both the quoted and unquoted forms.
func etagMatch(r *http.Request, etag string) bool {
	for _, headerVal := range r.Header["If-None-Match"] {
		if headerVal == etag || headerVal == fmt.Sprintf(`"%s"`, etag) {
			return true
		}
	}
	return false
}

// applyResourcePolicy enforces the repository-class policy
// (configuration.Policy.Repository.Classes) against the manifest in body,
// rejecting the PUT with 403 DENIED if its class is not in the allowed
// list. Manifests with no recognizable class (image indices, manifest
// lists) are exempt, the same way I2's reference check exempts them.
func (mh *manifestHandler) applyResourcePolicy(mediaType string, body []byte) error {
	class, ok := manifestClass(mediaType, body)
	if !ok {
		return nil
	}

	for _, allowed := range mh.AllowedManifestClasses {
		if allowed == class {
			return nil
		}
	}
	return errcode.ErrorCodeDenied.WithMessage(fmt.Sprintf("registry does not allow %s manifest", class))
}

// manifestClass derives the "image" or "plugin" class of a manifest from
// its config descriptor's media type. ok is false for media types with no
// single config descriptor to classify (image indices, manifest lists).
func manifestClass(mediaType string, body []byte) (class string, ok bool) {
	switch mediaType {
	case manifest.MediaTypeImageManifest, manifest.MediaTypeDockerManifest:
		// has a single config descriptor to classify
	default:
		// image indices and manifest lists reference other manifests,
		// not a single config blob
		return "", false
	}

	var probe struct {
		Config struct {
			MediaType string `json:"mediaType"`
		} `json:"config"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", false
	}

	switch probe.Config.MediaType {
	case v1.MediaTypeImageConfig:
		return manifestClassImage, true
	case mediaTypeDockerPluginConfig:
		return manifestClassPlugin, true
	default:
		return "", false
	}
}

func manifestMediaTypeSupported(mediaType string) bool {
	switch mediaType {
	case manifest.MediaTypeImageManifest, manifest.MediaTypeImageIndex,
		manifest.MediaTypeDockerManifest, manifest.MediaTypeDockerList:
		return true
	default:
		return false
	}
}

func detectManifestMediaType(content []byte) string {
	var probe struct {
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(content, &probe); err != nil {
		return ""
	}
	return probe.MediaType
}
