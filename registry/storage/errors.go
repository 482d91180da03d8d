package storage

import "errors"

// Sentinel errors returned by the storage layer. They are exported so
// handlers (C10) can translate them into the OCI error envelope via
// errors.Is; the storage layer itself never touches errcode.
var (
	ErrBlobUnknown         = errors.New("storage: blob unknown")
	ErrBlobUploadUnknown   = errors.New("storage: blob upload unknown")
	ErrManifestUnknown     = errors.New("storage: manifest unknown")
	ErrManifestBlobUnknown = errors.New("storage: manifest references an unknown blob")
	ErrDigestInvalid       = errors.New("storage: digest does not match content")
	ErrManifestInvalid     = errors.New("storage: manifest is structurally invalid")
	ErrNameUnknown         = errors.New("storage: repository unknown")
	ErrContentRangeInvalid = errors.New("storage: content-range does not match upload offset")
)

// unexported aliases kept so the rest of the package can refer to these
// errors without stuttering the package name.
var (
	errBlobUnknown         = ErrBlobUnknown
	errBlobUploadUnknown   = ErrBlobUploadUnknown
	errManifestUnknown     = ErrManifestUnknown
	errManifestBlobUnknown = ErrManifestBlobUnknown
	errDigestInvalid       = ErrDigestInvalid
	errManifestInvalid     = ErrManifestInvalid
	errNameUnknown         = ErrNameUnknown
	errContentRangeInvalid = ErrContentRangeInvalid
)
