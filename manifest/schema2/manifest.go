// Package schema2 implements the Docker v2 image manifest media type,
// application/vnd.docker.distribution.manifest.v2+json.
package schema2

import (
	"encoding/json"
	"fmt"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocireg/registry/manifest"
)

func init() {
	if err := manifest.RegisterSchema(manifest.MediaTypeDockerManifest, unmarshal); err != nil {
		panic(fmt.Sprintf("schema2: registering schema: %s", err))
	}
}

func unmarshal(b []byte) (manifest.Manifest, manifest.Descriptor, error) {
	m := &DeserializedManifest{}
	if err := m.UnmarshalJSON(b); err != nil {
		return nil, manifest.Descriptor{}, err
	}
	return m, manifest.FromBytes(manifest.MediaTypeDockerManifest, b), nil
}

// Manifest is the parsed body of a Docker v2 image manifest.
type Manifest struct {
	SchemaVersion int             `json:"schemaVersion"`
	MediaType     string          `json:"mediaType,omitempty"`
	Config        v1.Descriptor   `json:"config"`
	Layers        []v1.Descriptor `json:"layers"`
}

// References returns the config descriptor followed by each layer
// descriptor, in that order.
func (m Manifest) References() []v1.Descriptor {
	refs := make([]v1.Descriptor, 0, 1+len(m.Layers))
	refs = append(refs, m.Config)
	refs = append(refs, m.Layers...)
	return refs
}

// DeserializedManifest wraps Manifest with the exact bytes it was parsed
// from.
type DeserializedManifest struct {
	Manifest
	canonical []byte
}

// FromStruct marshals m and wraps the result.
func FromStruct(m Manifest) (*DeserializedManifest, error) {
	var dm DeserializedManifest
	dm.Manifest = m

	var err error
	dm.canonical, err = json.Marshal(&m)
	return &dm, err
}

func (m *DeserializedManifest) UnmarshalJSON(b []byte) error {
	m.canonical = make([]byte, len(b))
	copy(m.canonical, b)

	var inner Manifest
	if err := json.Unmarshal(m.canonical, &inner); err != nil {
		return err
	}
	if inner.SchemaVersion != 2 {
		return fmt.Errorf("schema2: unrecognized schemaVersion %d", inner.SchemaVersion)
	}
	if inner.MediaType != "" && inner.MediaType != manifest.MediaTypeDockerManifest {
		return fmt.Errorf("schema2: mediaType in manifest should be %q not %q",
			manifest.MediaTypeDockerManifest, inner.MediaType)
	}

	m.Manifest = inner
	return nil
}

func (m *DeserializedManifest) MarshalJSON() ([]byte, error) {
	if len(m.canonical) > 0 {
		return m.canonical, nil
	}
	return json.Marshal(&m.Manifest)
}

// Payload returns the manifest's media type and the exact bytes it was
// parsed from.
func (m *DeserializedManifest) Payload() (string, []byte, error) {
	return manifest.MediaTypeDockerManifest, m.canonical, nil
}
