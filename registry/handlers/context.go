package handlers

import (
	"context"
	"errors"

	"github.com/ocireg/registry/digest"
	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/reference"
	"github.com/ocireg/registry/registry/api/errcode"
	v2 "github.com/ocireg/registry/registry/api/v2"
	"github.com/ocireg/registry/registry/storage"
)

// Context carries the per-request state every dispatcher-built handler
// needs: the request-scoped logger chain (via the embedded
// context.Context), the repository the request is scoped to (nil on
// routes that don't require a name, e.g. the base route), the error
// accumulator the dispatcher serializes once the handler returns, and a
// URL builder for Location headers.
type Context struct {
	context.Context

	// Repository is the storage repository this request is scoped to.
	// Populated by the dispatcher before the route handler runs, for
	// every route except RouteNameBase and RouteNameCatalog.
	Repository *storage.Repository

	// Errors accumulates the errors a handler reports. A handler that
	// pushes onto Errors sets the response status itself but writes no
	// body; the dispatcher serializes Errors as the body once, after the
	// handler returns.
	Errors errcode.Errors

	// DefaultPageSize and MaxPageSize mirror the registry's configured
	// catalog/tag-listing pagination defaults, copied onto the context so
	// the tags and catalog handlers don't need a path back to the App.
	DefaultPageSize int
	MaxPageSize     int

	// AllowedManifestClasses mirrors configuration.Policy.Repository.Classes.
	// Empty means the policy is disabled and every manifest class is
	// accepted, the default.
	AllowedManifestClasses []string

	registry   *storage.Registry
	urlBuilder *v2.URLBuilder
}

var errDigestNotAvailable = errors.New("handlers: digest not available in request context")

func getName(ctx context.Context) string {
	return dcontext.GetStringValue(ctx, "vars.name")
}

func getReference(ctx context.Context) string {
	return dcontext.GetStringValue(ctx, "vars.reference")
}

func getUploadUUID(ctx context.Context) string {
	return dcontext.GetStringValue(ctx, "vars.uuid")
}

func getDigest(ctx context.Context) (digest.Digest, error) {
	s := dcontext.GetStringValue(ctx, "vars.digest")
	if s == "" {
		return "", errDigestNotAvailable
	}
	return digest.Parse(s)
}

// resolveTagOrDigest classifies ref the way the manifest route does,
// returning ok=false if ref is not a well-formed tag or digest at all.
func resolveTagOrDigest(ref string) (isTag bool, ok bool) {
	if reference.IsTag(ref) {
		return true, reference.ValidateTag(ref) == nil
	}
	_, err := digest.Parse(ref)
	return false, err == nil
}
