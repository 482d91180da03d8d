// Package manifest defines the registry's manifest abstraction: a
// self-describing JSON document identifying a set of referenced blobs, one
// of the four media types spec.md recognizes.
package manifest

import (
	"fmt"
	"sync"

	digest "github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// The four manifest media types spec.md requires PUT/GET to recognize.
const (
	MediaTypeImageManifest  = "application/vnd.oci.image.manifest.v1+json"
	MediaTypeImageIndex     = "application/vnd.oci.image.index.v1+json"
	MediaTypeDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerList     = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// Descriptor is the edge type of a manifest graph: a pointer to a blob by
// digest, with the size and media type needed to fetch and validate it.
type Descriptor = v1.Descriptor

// Manifest represents a registry object specifying a set of blob
// references.
type Manifest interface {
	// References returns the descriptors of every blob this manifest
	// points at, strictly ordered from base to head.
	References() []Descriptor

	// Payload returns the manifest's own media type and the exact bytes
	// its digest must be computed over.
	Payload() (mediaType string, payload []byte, err error)
}

// UnmarshalFunc parses a manifest body already known to carry the given
// media type, returning the parsed Manifest and the descriptor that
// identifies it (digest computed from the raw bytes, size, media type).
type UnmarshalFunc func(b []byte) (Manifest, Descriptor, error)

var (
	mu           sync.RWMutex
	unmarshalers = map[string]UnmarshalFunc{}
)

// RegisterSchema registers an UnmarshalFunc for the given media type. Each
// of this package's sibling packages (ocischema, schema2, imageindex,
// manifestlist) registers itself via an init function, the same pattern the
// teacher's schema packages use to register with the top-level
// distribution package.
func RegisterSchema(mediaType string, u UnmarshalFunc) error {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := unmarshalers[mediaType]; ok {
		return fmt.Errorf("manifest: schema already registered for media type %q", mediaType)
	}
	unmarshalers[mediaType] = u
	return nil
}

// ErrUnsupportedMediaType is returned by Unmarshal when no schema is
// registered for the given media type.
type ErrUnsupportedMediaType struct {
	MediaType string
}

func (e ErrUnsupportedMediaType) Error() string {
	return fmt.Sprintf("manifest: unsupported media type %q", e.MediaType)
}

// Unmarshal dispatches to the UnmarshalFunc registered for mediaType.
func Unmarshal(mediaType string, b []byte) (Manifest, Descriptor, error) {
	mu.RLock()
	u, ok := unmarshalers[mediaType]
	mu.RUnlock()
	if !ok {
		return nil, Descriptor{}, ErrUnsupportedMediaType{MediaType: mediaType}
	}
	return u(b)
}

// FromBytes computes the canonical descriptor for a manifest body of the
// given media type, without fully parsing it.
func FromBytes(mediaType string, b []byte) Descriptor {
	return Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
}
