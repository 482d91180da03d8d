// Package imageindex implements the OCI image index media type,
// application/vnd.oci.image.index.v1+json.
package imageindex

import (
	"encoding/json"
	"fmt"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocireg/registry/manifest"
)

func init() {
	if err := manifest.RegisterSchema(manifest.MediaTypeImageIndex, unmarshal); err != nil {
		panic(fmt.Sprintf("imageindex: registering schema: %s", err))
	}
}

func unmarshal(b []byte) (manifest.Manifest, manifest.Descriptor, error) {
	m := &DeserializedImageIndex{}
	if err := m.UnmarshalJSON(b); err != nil {
		return nil, manifest.Descriptor{}, err
	}
	return m, manifest.FromBytes(manifest.MediaTypeImageIndex, b), nil
}

// ImageIndex is the parsed body of an OCI image index: a manifest whose
// references are themselves manifests, one per platform.
type ImageIndex struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaType     string            `json:"mediaType,omitempty"`
	Manifests     []v1.Descriptor   `json:"manifests"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

// References returns the descriptors of every platform-specific manifest
// this index points at. spec.md does not require these to already exist in
// the repository at PUT time.
func (m ImageIndex) References() []v1.Descriptor {
	return m.Manifests
}

// DeserializedImageIndex wraps ImageIndex with the exact bytes it was
// parsed from.
type DeserializedImageIndex struct {
	ImageIndex
	canonical []byte
}

// FromStruct marshals m and wraps the result.
func FromStruct(m ImageIndex) (*DeserializedImageIndex, error) {
	var dm DeserializedImageIndex
	dm.ImageIndex = m

	var err error
	dm.canonical, err = json.Marshal(&m)
	return &dm, err
}

func (m *DeserializedImageIndex) UnmarshalJSON(b []byte) error {
	m.canonical = make([]byte, len(b))
	copy(m.canonical, b)

	var inner ImageIndex
	if err := json.Unmarshal(m.canonical, &inner); err != nil {
		return err
	}
	if inner.SchemaVersion != 2 {
		return fmt.Errorf("imageindex: unrecognized schemaVersion %d", inner.SchemaVersion)
	}
	if inner.MediaType != "" && inner.MediaType != manifest.MediaTypeImageIndex {
		return fmt.Errorf("imageindex: mediaType in index should be %q not %q",
			manifest.MediaTypeImageIndex, inner.MediaType)
	}

	m.ImageIndex = inner
	return nil
}

func (m *DeserializedImageIndex) MarshalJSON() ([]byte, error) {
	if len(m.canonical) > 0 {
		return m.canonical, nil
	}
	return json.Marshal(&m.ImageIndex)
}

// Payload returns the index's media type and the exact bytes it was parsed
// from.
func (m *DeserializedImageIndex) Payload() (string, []byte, error) {
	return manifest.MediaTypeImageIndex, m.canonical, nil
}
