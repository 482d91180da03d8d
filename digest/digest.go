// Package digest implements the registry's content-addressing engine: digest
// parsing and validation, streaming digest computation, and the tee-writer
// used to verify a blob's digest without buffering it in memory.
package digest

import (
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// Digest identifies content by algorithm and hex-encoded hash, e.g.
// "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855".
type Digest = digest.Digest

// Algorithm identifies a hash function by name, e.g. "sha256".
type Algorithm = digest.Algorithm

const (
	// Canonical is the digest algorithm the registry generates digests with
	// when a client does not provide one of its own.
	Canonical = digest.Canonical
)

// ErrDigestInvalidFormat is returned when a string does not parse as a
// well-formed <algorithm>:<hex> digest reference.
var ErrDigestInvalidFormat = digest.ErrDigestInvalidFormat

// ErrDigestUnsupported is returned when a digest names an algorithm this
// registry does not implement.
var ErrDigestUnsupported = digest.ErrDigestUnsupported

// Parse validates that s is a well-formed digest reference with a supported
// algorithm and returns it as a Digest. It does not touch any content; use
// Verify to check a digest against actual bytes.
func Parse(s string) (Digest, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return "", err
	}
	if !d.Algorithm().Available() {
		return "", digest.ErrDigestUnsupported
	}
	return d, nil
}

// FromReader consumes r to completion and returns the canonical digest of
// its content. Used when storing a blob whose digest the client did not
// declare up front (never the case for PUT blob upload completion, but used
// internally when recomputing a manifest's digest for comparison).
func FromReader(r io.Reader) (Digest, error) {
	return digest.Canonical.FromReader(r)
}

// FromBytes returns the canonical digest of p.
func FromBytes(p []byte) Digest {
	return digest.Canonical.FromBytes(p)
}

// Equal reports whether two digests name the same algorithm and hash, using
// a constant-time comparison of the hex-encoded hash so that digest checks
// driven by client-supplied values are not a timing side channel.
func Equal(a, b Digest) bool {
	if a.Algorithm() != b.Algorithm() {
		return false
	}
	ah, bh := a.Encoded(), b.Encoded()
	if len(ah) != len(bh) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ah), []byte(bh)) == 1
}

// Verifier incrementally hashes written content and reports whether the
// accumulated hash matches the expected digest once all content has been
// written.
type Verifier struct {
	expected Digest
	verifier digest.Verifier
}

// NewVerifier returns a Verifier for the given expected digest. Writes made
// through the Verifier are hashed with expected's algorithm; Verified
// reports whether the result matches expected.
func NewVerifier(expected Digest) *Verifier {
	return &Verifier{
		expected: expected,
		verifier: expected.Verifier(),
	}
}

// Write implements io.Writer, feeding p into the running hash.
func (v *Verifier) Write(p []byte) (int, error) {
	return v.verifier.Write(p)
}

// Verified reports whether the bytes written so far hash to the expected
// digest.
func (v *Verifier) Verified() bool {
	return v.verifier.Verified()
}

// TeeHash wraps w so that every byte written to the returned writer is both
// forwarded to w and fed into a running digest computation, letting a
// handler stream a blob straight to storage while simultaneously computing
// its digest, with no second pass over the data and no buffering.
type TeeHash struct {
	w      io.Writer
	hasher digest.Digester
}

// NewTeeHash returns a TeeHash writing to w and hashing with alg (Canonical
// if alg is the zero value).
func NewTeeHash(w io.Writer, alg Algorithm) *TeeHash {
	if alg == "" {
		alg = Canonical
	}
	return &TeeHash{w: w, hasher: alg.Digester()}
}

// Write implements io.Writer.
func (t *TeeHash) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		if _, herr := t.hasher.Hash().Write(p[:n]); herr != nil {
			return n, herr
		}
	}
	return n, err
}

// Digest returns the digest of everything written so far.
func (t *TeeHash) Digest() Digest {
	return t.hasher.Digest()
}

// ValidateAlgorithm reports an error if alg does not name a supported
// algorithm, for validating configuration-provided or query-parameter
// algorithm overrides before they reach Parse.
func ValidateAlgorithm(alg string) error {
	a := Algorithm(alg)
	if !a.Available() {
		return fmt.Errorf("digest: unsupported algorithm %q", alg)
	}
	return nil
}
