// Package ocischema implements the OCI image manifest media type,
// application/vnd.oci.image.manifest.v1+json.
package ocischema

import (
	"encoding/json"
	"errors"
	"fmt"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocireg/registry/manifest"
)

func init() {
	if err := manifest.RegisterSchema(manifest.MediaTypeImageManifest, unmarshal); err != nil {
		panic(fmt.Sprintf("ocischema: registering schema: %s", err))
	}
}

func unmarshal(b []byte) (manifest.Manifest, manifest.Descriptor, error) {
	if err := validateNotIndex(b); err != nil {
		return nil, manifest.Descriptor{}, err
	}

	m := &DeserializedManifest{}
	if err := m.UnmarshalJSON(b); err != nil {
		return nil, manifest.Descriptor{}, err
	}

	return m, manifest.FromBytes(manifest.MediaTypeImageManifest, b), nil
}

func validateNotIndex(b []byte) error {
	var doc struct {
		Manifests interface{} `json:"manifests,omitempty"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc.Manifests != nil {
		return errors.New("ocischema: expected manifest but found index")
	}
	return nil
}

// Manifest is the parsed body of an OCI image manifest.
type Manifest struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType,omitempty"`

	// Config references the image configuration as a blob.
	Config v1.Descriptor `json:"config"`

	// Layers lists descriptors for the layers referenced by the
	// configuration, from base to head.
	Layers []v1.Descriptor `json:"layers"`

	// Annotations contains arbitrary metadata for the image manifest.
	Annotations map[string]string `json:"annotations,omitempty"`
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
// from, since the manifest's digest must be computed over those bytes
// verbatim rather than a re-marshaled copy.
type DeserializedManifest struct {
	Manifest
	canonical []byte
}

// FromStruct marshals m and wraps the result, for constructing a manifest
// to PUT rather than one received over the wire.
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
		return fmt.Errorf("ocischema: unrecognized schemaVersion %d", inner.SchemaVersion)
	}
	if inner.MediaType != "" && inner.MediaType != manifest.MediaTypeImageManifest {
		return fmt.Errorf("ocischema: mediaType in manifest should be %q not %q",
			manifest.MediaTypeImageManifest, inner.MediaType)
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
	return manifest.MediaTypeImageManifest, m.canonical, nil
}
