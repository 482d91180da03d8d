package storage

import (
	"fmt"
	"path"

	digest "github.com/opencontainers/go-digest"

	"github.com/ocireg/registry/reference"
)

// pathMapper maps the logical objects the storage layer deals in — blobs,
// layer links, manifest revisions, tag pointers, upload sessions — onto
// paths rooted at the configured storage driver root. Keeping every path
// decision behind this one type means a change in on-disk layout never
// leaks into blobstore.go, manifeststore.go, or tagstore.go.
//
// Layout:
//
//	<root>/blobs/<algorithm>/<first two hex chars>/<full hex>
//	<root>/repositories/<name>/_layers/<algorithm>/<hex>/link
//	<root>/repositories/<name>/_manifests/revisions/<algorithm>/<hex>/link
//	<root>/repositories/<name>/_manifests/tags/<tag>/current/link
//	<root>/repositories/<name>/_uploads/<uuid>/data
//	<root>/repositories/<name>/_uploads/<uuid>/startedat
//
// A "link" file's content is always a digest string; it is never the blob
// itself. This indirection is what lets a blob live once under blobs/ while
// being referenced from any number of repositories.
type pathMapper struct{}

// pathSpec marks a type as describing a path the mapper knows how to
// build. Keeping the interface method-only (no shared fields) forces every
// spec to carry exactly the identifiers it needs and nothing else.
type pathSpec interface {
	pathSpec()
}

type blobDataPathSpec struct {
	digest digest.Digest
}

func (blobDataPathSpec) pathSpec() {}

type layerLinkPathSpec struct {
	name   string
	digest digest.Digest
}

func (layerLinkPathSpec) pathSpec() {}

type layerLinksPathSpec struct {
	name string
}

func (layerLinksPathSpec) pathSpec() {}

type manifestRevisionPathSpec struct {
	name     string
	revision digest.Digest
}

func (manifestRevisionPathSpec) pathSpec() {}

type manifestRevisionLinkPathSpec struct {
	name     string
	revision digest.Digest
}

func (manifestRevisionLinkPathSpec) pathSpec() {}

type manifestRevisionsPathSpec struct {
	name string
}

func (manifestRevisionsPathSpec) pathSpec() {}

type manifestTagsPathSpec struct {
	name string
}

func (manifestTagsPathSpec) pathSpec() {}

type manifestTagPathSpec struct {
	name string
	tag  string
}

func (manifestTagPathSpec) pathSpec() {}

type manifestTagCurrentPathSpec struct {
	name string
	tag  string
}

func (manifestTagCurrentPathSpec) pathSpec() {}

type uploadDataPathSpec struct {
	name string
	uuid string
}

func (uploadDataPathSpec) pathSpec() {}

type uploadStartedAtPathSpec struct {
	name string
	uuid string
}

func (uploadStartedAtPathSpec) pathSpec() {}

type uploadsPathSpec struct {
	name string
}

func (uploadsPathSpec) pathSpec() {}

type repositoriesRootPathSpec struct{}

func (repositoriesRootPathSpec) pathSpec() {}

// path resolves spec to a slash-separated path relative to the storage
// root. It never touches the filesystem; callers are responsible for
// canonicalizing and validating the result against the configured root
// before handing it to the storage driver (I7).
func (pm pathMapper) path(spec pathSpec) (string, error) {
	repoPrefix := []string{"repositories"}

	switch v := spec.(type) {
	case blobDataPathSpec:
		components, err := digestPathComponents(v.digest, true)
		if err != nil {
			return "", err
		}
		return path.Join(append([]string{"blobs"}, components...)...), nil

	case layerLinksPathSpec:
		return path.Join(append(repoPrefix, v.name, "_layers")...), nil

	case layerLinkPathSpec:
		root, err := pm.path(layerLinksPathSpec{name: v.name})
		if err != nil {
			return "", err
		}
		components, err := digestPathComponents(v.digest, false)
		if err != nil {
			return "", err
		}
		return path.Join(append([]string{root}, append(components, "link")...)...), nil

	case manifestRevisionsPathSpec:
		return path.Join(append(repoPrefix, v.name, "_manifests", "revisions")...), nil

	case manifestRevisionPathSpec:
		root, err := pm.path(manifestRevisionsPathSpec{name: v.name})
		if err != nil {
			return "", err
		}
		components, err := digestPathComponents(v.revision, false)
		if err != nil {
			return "", err
		}
		return path.Join(append([]string{root}, components...)...), nil

	case manifestRevisionLinkPathSpec:
		root, err := pm.path(manifestRevisionPathSpec{name: v.name, revision: v.revision})
		if err != nil {
			return "", err
		}
		return path.Join(root, "link"), nil

	case manifestTagsPathSpec:
		return path.Join(append(repoPrefix, v.name, "_manifests", "tags")...), nil

	case manifestTagPathSpec:
		root, err := pm.path(manifestTagsPathSpec{name: v.name})
		if err != nil {
			return "", err
		}
		return path.Join(root, v.tag), nil

	case manifestTagCurrentPathSpec:
		root, err := pm.path(manifestTagPathSpec{name: v.name, tag: v.tag})
		if err != nil {
			return "", err
		}
		return path.Join(root, "current", "link"), nil

	case uploadsPathSpec:
		return path.Join(append(repoPrefix, v.name, "_uploads")...), nil

	case uploadDataPathSpec:
		root, err := pm.path(uploadsPathSpec{name: v.name})
		if err != nil {
			return "", err
		}
		return path.Join(root, v.uuid, "data"), nil

	case uploadStartedAtPathSpec:
		root, err := pm.path(uploadsPathSpec{name: v.name})
		if err != nil {
			return "", err
		}
		return path.Join(root, v.uuid, "startedat"), nil

	case repositoriesRootPathSpec:
		return path.Join(repoPrefix...), nil

	default:
		return "", fmt.Errorf("storage: unknown path spec: %#v", v)
	}
}

// digestPathComponents breaks a digest into the path elements used under
// blobs/ and the per-repository link directories. Per spec, digests with
// fewer than two hex characters (not expected in practice, since every
// supported algorithm produces far more) fall back to using the full hex
// string as the prefix directory rather than panicking on a short slice.
func digestPathComponents(dgst digest.Digest, multilevel bool) ([]string, error) {
	if err := dgst.Validate(); err != nil {
		return nil, err
	}

	algorithm := string(dgst.Algorithm())
	hex := dgst.Hex()

	var suffix []string
	if multilevel {
		prefix := hex
		if len(hex) >= 2 {
			prefix = hex[:2]
		}
		suffix = append(suffix, prefix)
	}
	suffix = append(suffix, hex)

	return append([]string{algorithm}, suffix...), nil
}

// canonicalize re-validates a path built from repository names, tags, or
// digests against path traversal before it reaches the storage driver (I7).
// Every caller of pathMapper.path is expected to route the result through
// here; names and tags are already checked by the reference package at the
// API boundary, but this is the second line of defense the invariant calls
// for.
func canonicalize(p string) (string, error) {
	return reference.SafeJoin("", p)
}
