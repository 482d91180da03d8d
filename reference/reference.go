package reference

import (
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/ocireg/registry/digest"
)

const (
	// NameTotalLengthMax is the maximum number of bytes a repository name
	// may occupy.
	NameTotalLengthMax = 255
)

// Errors returned by the validators in this package. Handlers translate
// these into the registry's NAME_INVALID / TAG_INVALID error codes.
var (
	ErrNameEmpty       = errors.New("reference: repository name may not be empty")
	ErrNameTooLong     = errors.New("reference: repository name too long")
	ErrNameNotCanonical = errors.New("reference: repository name is not canonical")
	ErrTagInvalid      = errors.New("reference: invalid tag")
	ErrSessionInvalid  = errors.New("reference: invalid upload session ID")
)

// ValidateName reports whether name is a well-formed repository name:
// one or more "/"-separated lowercase alphanumeric path components, each
// optionally broken up by a single run of '.', '_', or '-' characters.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > NameTotalLengthMax {
		return ErrNameTooLong
	}
	if !anchoredNameRegexp.MatchString(name) {
		return ErrNameNotCanonical
	}
	return nil
}

// ValidateTag reports whether tag is a well-formed tag value.
func ValidateTag(tag string) error {
	if !anchoredTagRegexp.MatchString(tag) {
		return ErrTagInvalid
	}
	return nil
}

// ValidateSessionID reports whether id is a well-formed upload session
// identifier: an RFC 4122 UUID, the only form this registry issues or
// accepts back from a client in a PATCH/PUT URL.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrSessionInvalid
	}
	return nil
}

// ValidateDigest parses s as a content digest, returning the registry's own
// digest.ErrDigestInvalidFormat/ErrDigestUnsupported on failure.
func ValidateDigest(s string) (digest.Digest, error) {
	return digest.Parse(s)
}

// IsTag reports whether ref looks like a tag rather than a digest, by
// checking whether it contains the ':' that separates a digest's algorithm
// from its hex encoding. Used to decide how to interpret the {reference}
// path segment of manifest routes.
func IsTag(ref string) bool {
	return !strings.Contains(ref, ":")
}

// SafeJoin joins a repository-relative path onto root the way the storage
// driver does, and fails closed if the result would escape root — guarding
// against a maliciously crafted repository name or tag reaching the
// filesystem as "../../etc" would.
func SafeJoin(root string, elem ...string) (string, error) {
	full := path.Join(append([]string{root}, elem...)...)
	cleanRoot := path.Clean(root)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+"/") {
		return "", errors.New("reference: path escapes root")
	}
	return full, nil
}
