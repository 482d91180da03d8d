// Package manifestlist implements the Docker v2 manifest list media type,
// application/vnd.docker.distribution.manifest.list.v2+json — a manifest
// whose references are themselves platform-specific manifests.
package manifestlist

import (
	"encoding/json"
	"fmt"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocireg/registry/manifest"
)

func init() {
	if err := manifest.RegisterSchema(manifest.MediaTypeDockerList, unmarshal); err != nil {
		panic(fmt.Sprintf("manifestlist: registering schema: %s", err))
	}
}

func unmarshal(b []byte) (manifest.Manifest, manifest.Descriptor, error) {
	m := &DeserializedManifestList{}
	if err := m.UnmarshalJSON(b); err != nil {
		return nil, manifest.Descriptor{}, err
	}
	return m, manifest.FromBytes(manifest.MediaTypeDockerList, b), nil
}

// ManifestList is the parsed body of a Docker v2 manifest list.
type ManifestList struct {
	SchemaVersion int             `json:"schemaVersion"`
	MediaType     string          `json:"mediaType,omitempty"`
	Manifests     []v1.Descriptor `json:"manifests"`
}

// References returns the descriptor of every platform-specific manifest
// this list points at.
func (m ManifestList) References() []v1.Descriptor {
	return m.Manifests
}

// DeserializedManifestList wraps ManifestList with the exact bytes it was
// parsed from.
type DeserializedManifestList struct {
	ManifestList
	canonical []byte
}

// FromStruct marshals m and wraps the result.
func FromStruct(m ManifestList) (*DeserializedManifestList, error) {
	var dm DeserializedManifestList
	dm.ManifestList = m

	var err error
	dm.canonical, err = json.Marshal(&m)
	return &dm, err
}

func (m *DeserializedManifestList) UnmarshalJSON(b []byte) error {
	m.canonical = make([]byte, len(b))
	copy(m.canonical, b)

	var inner ManifestList
	if err := json.Unmarshal(m.canonical, &inner); err != nil {
		return err
	}
	if inner.SchemaVersion != 2 {
		return fmt.Errorf("manifestlist: unrecognized schemaVersion %d", inner.SchemaVersion)
	}
	if inner.MediaType != "" && inner.MediaType != manifest.MediaTypeDockerList {
		return fmt.Errorf("manifestlist: mediaType in manifest list should be %q not %q",
			manifest.MediaTypeDockerList, inner.MediaType)
	}

	m.ManifestList = inner
	return nil
}

func (m *DeserializedManifestList) MarshalJSON() ([]byte, error) {
	if len(m.canonical) > 0 {
		return m.canonical, nil
	}
	return json.Marshal(&m.ManifestList)
}

// Payload returns the list's media type and the exact bytes it was parsed
// from.
func (m *DeserializedManifestList) Payload() (string, []byte, error) {
	return manifest.MediaTypeDockerList, m.canonical, nil
}
