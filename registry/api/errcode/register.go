package errcode

import "net/http"

// The following errors are the generic, transport-agnostic error codes
// every distribution API error response may carry, registered first so
// their ErrorCode values are stable regardless of which groups below are
// added later.
var (
	ErrorCodeUnknown = register(
		"UNKNOWN",
		"unknown error",
		"Generic error returned when the error does not have an API classification.",
		http.StatusInternalServerError,
	)

	ErrorCodeUnsupported = register(
		"UNSUPPORTED",
		"The operation is unsupported.",
		"The operation was unsupported due to a missing implementation or invalid set of parameters.",
		http.StatusUnsupportedMediaType,
	)

	ErrorCodeUnauthorized = register(
		"UNAUTHORIZED",
		"authentication required",
		"The access controller was unable to authenticate the client. Often this will be accompanied by a Www-Authenticate HTTP response header indicating how to authenticate.",
		http.StatusUnauthorized,
	)

	ErrorCodeDenied = register(
		"DENIED",
		"requested access to the resource is denied",
		"The access controller denied access for the operation on a resource.",
		http.StatusForbidden,
	)

	ErrorCodeUnavailable = register(
		"UNAVAILABLE",
		"service unavailable",
		"Returned when a service is not available.",
		http.StatusServiceUnavailable,
	)

	ErrorCodeTooManyRequests = register(
		"TOOMANYREQUESTS",
		"too many requests",
		"Returned when a client attempts to contact a service too many times.",
		http.StatusTooManyRequests,
	)
)

// The following error codes implement spec.md §4.10's distribution API
// error table exactly. Status codes here take precedence over the
// teacher's register.go where the two differ (notably BLOB_UPLOAD_INVALID,
// which this table maps to 400, not the teacher's 404).
var (
	ErrorCodeDigestInvalid = register(
		"DIGEST_INVALID",
		"provided digest did not match uploaded content",
		"When a blob is uploaded, the registry will check that the content matches the digest provided by the client. This error is returned when that match fails.",
		http.StatusBadRequest,
	)

	ErrorCodeSizeInvalid = register(
		"SIZE_INVALID",
		"provided length did not match content length",
		"When a layer is uploaded, the provided size will be checked against the uploaded content. This error is returned when the size did not match.",
		http.StatusBadRequest,
	)

	ErrorCodeRangeInvalid = register(
		"RANGE_INVALID",
		"invalid content range",
		"When a layer is uploaded, the provided range is checked against the uploaded chunk. This error is returned when the range is out of order, or does not start where the previous chunk left off.",
		http.StatusRequestedRangeNotSatisfiable,
	)

	ErrorCodeNameInvalid = register(
		"NAME_INVALID",
		"invalid repository name",
		"Invalid repository name encountered either during manifest validation or any API operation.",
		http.StatusBadRequest,
	)

	ErrorCodeTagInvalid = register(
		"TAG_INVALID",
		"manifest tag did not match URI",
		"During a manifest upload, if the tag in the manifest does not match the uri tag, this error will be returned.",
		http.StatusBadRequest,
	)

	ErrorCodeNameUnknown = register(
		"NAME_UNKNOWN",
		"repository name not known to registry",
		"This is returned if the name used during an operation is unknown to the registry.",
		http.StatusNotFound,
	)

	ErrorCodeManifestUnknown = register(
		"MANIFEST_UNKNOWN",
		"manifest unknown",
		"This error is returned when the manifest, identified by name and tag is unknown to the repository.",
		http.StatusNotFound,
	)

	ErrorCodeManifestInvalid = register(
		"MANIFEST_INVALID",
		"manifest invalid",
		"During upload, manifests undergo several checks ensuring validity. If those checks fail, this error may be returned, unless a more specific error is included. The detail will contain information the failed validation.",
		http.StatusBadRequest,
	)

	ErrorCodeManifestUnverified = register(
		"MANIFEST_UNVERIFIED",
		"manifest failed signature verification",
		"During manifest upload, if the manifest fails signature verification, this error will be returned.",
		http.StatusBadRequest,
	)

	ErrorCodeManifestBlobUnknown = register(
		"MANIFEST_BLOB_UNKNOWN",
		"blob unknown to registry",
		"This error is returned when a manifest blob is unknown to the registry.",
		http.StatusNotFound,
	)

	ErrorCodeManifestUnacceptable = register(
		"MANIFEST_UNACCEPTABLE",
		"client does not accept any of the available manifest media types",
		"Returned when none of the media types in the request's Accept header match the manifest's stored mediaType.",
		http.StatusNotAcceptable,
	)

	ErrorCodeBlobUnknown = register(
		"BLOB_UNKNOWN",
		"blob unknown to registry",
		"This error may be returned when a blob is unknown to the registry in a specified repository. This can be returned with a standard get or if a manifest references an unknown layer during upload.",
		http.StatusNotFound,
	)

	ErrorCodeBlobUploadUnknown = register(
		"BLOB_UPLOAD_UNKNOWN",
		"blob upload unknown to registry",
		"If a blob upload has been cancelled or was never started, this error code may be returned.",
		http.StatusNotFound,
	)

	ErrorCodeBlobUploadInvalid = register(
		"BLOB_UPLOAD_INVALID",
		"blob upload invalid",
		"The blob upload encountered an error and can no longer proceed.",
		http.StatusBadRequest,
	)

	ErrorCodePaginationNumberInvalid = register(
		"PAGINATION_NUMBER_INVALID",
		"invalid number of results requested",
		"Returned when the `n` parameter (number of results to return) is not an integer, or `n` is negative.",
		http.StatusBadRequest,
	)
)
