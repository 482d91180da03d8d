// Package errcode implements the registry's OCI distribution error code
// registry: a closed, self-describing set of error codes with an HTTP
// status mapping, and the JSON error envelope the API surface serializes a
// request's accumulated errors into.
package errcode

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCode represents the error type. It is used to define a list of
// recognized errors.
type ErrorCode int

// ErrorDescriptor provides relevant information about a given error code.
type ErrorDescriptor struct {
	// Code is the error code that this descriptor describes.
	Code ErrorCode

	// Value provides a unique, string key, often capitalized with
	// underscores, to identify the error code. This value is used as the
	// keyed value when serializing api errors.
	Value string

	// Message is a short, human readable description of the error
	// condition included in API responses.
	Message string

	// Description provides a complete account of the errors purpose,
	// suitable for use in documentation.
	Description string

	// HTTPStatusCode provides the http status code that is associated
	// with this error condition.
	HTTPStatusCode int
}

// Error provides a wrapper around ErrorCode with extra Details provided.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  any       `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Message)
}

// WithDetail returns a new Error with the provided detail attached.
func (e Error) WithDetail(detail any) Error {
	return Error{
		Code:    e.Code,
		Message: e.Message,
		Detail:  detail,
	}
}

// WithMessage returns a new Error with the Message field overridden.
func (e Error) WithMessage(message string) Error {
	return Error{
		Code:    e.Code,
		Message: message,
		Detail:  e.Detail,
	}
}

var (
	errorCodeToDescriptors = map[ErrorCode]ErrorDescriptor{}
	idToDescriptors        = map[string]ErrorDescriptor{}
	nextCode               = 1000
)

// register creates a new ErrorCode with the given descriptor, filling in
// Code, and registers it for String/UnmarshalText lookups. Panics if value
// is already registered, so that a duplicate registration in an init()
// function fails loudly at program start rather than silently shadowing an
// existing code.
func register(value, message, description string, httpStatusCode int) ErrorCode {
	if _, ok := idToDescriptors[value]; ok {
		panic(fmt.Sprintf("errcode: duplicate error code value %q", value))
	}

	code := ErrorCode(nextCode)
	nextCode++

	descriptor := ErrorDescriptor{
		Code:           code,
		Value:          value,
		Message:        message,
		Description:    description,
		HTTPStatusCode: httpStatusCode,
	}

	errorCodeToDescriptors[code] = descriptor
	idToDescriptors[value] = descriptor

	return code
}

// Descriptor returns the descriptor for the error code.
func (ec ErrorCode) Descriptor() ErrorDescriptor {
	d, ok := errorCodeToDescriptors[ec]
	if !ok {
		return ErrorCodeUnknown.Descriptor()
	}
	return d
}

// String returns the ID/Value of this error code.
func (ec ErrorCode) String() string {
	return ec.Descriptor().Value
}

// Message returns the human-readable message for the error code.
func (ec ErrorCode) Message() string {
	return ec.Descriptor().Message
}

// WithDetail creates a new Error struct based on the passed-in info and
// detail, the entrypoint used by handlers: `errcode.ErrorCodeBlobUnknown.WithDetail(dgst)`.
func (ec ErrorCode) WithDetail(detail any) Error {
	return Error{
		Code:    ec,
		Message: ec.Message(),
		Detail:  detail,
	}
}

// WithMessage creates a new Error struct, overriding the default message.
func (ec ErrorCode) WithMessage(message string) Error {
	return Error{
		Code:    ec,
		Message: message,
	}
}

// MarshalText encodes the receiver into UTF-8-encoded text and returns the
// result, implementing encoding.TextMarshaler.
func (ec ErrorCode) MarshalText() (text []byte, err error) {
	return []byte(ec.String()), nil
}

// UnmarshalText decodes text as the string representation of an ErrorCode,
// implementing encoding.TextUnmarshaler.
func (ec *ErrorCode) UnmarshalText(text []byte) error {
	desc, ok := idToDescriptors[string(text)]
	if !ok {
		*ec = ErrorCodeUnknown
		return nil
	}
	*ec = desc.Code
	return nil
}

// Errors provides the envelope for multiple errors and a JSON error report,
// built once per request as handlers accumulate Error values and serialized
// exactly once when the request completes.
type Errors []error

// Error implements the error interface.
func (errs Errors) Error() string {
	switch len(errs) {
	case 0:
		return "<nil>"
	case 1:
		return errs[0].Error()
	default:
		msg := "errors:\n"
		for _, err := range errs {
			msg += err.Error() + "\n"
		}
		return msg
	}
}

// Len returns the number of errors.
func (errs Errors) Len() int {
	return len(errs)
}

type jsonError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  any       `json:"detail,omitempty"`
}

type jsonErrors struct {
	Errors []jsonError `json:"errors,omitempty"`
}

// MarshalJSON converts slice of error, ErrorCode, or Error into a slice of
// Error - then serializes as the OCI distribution error envelope
// ({"errors":[...]}) .
func (errs Errors) MarshalJSON() ([]byte, error) {
	var out jsonErrors

	for _, daErr := range errs {
		var err Error

		switch daErr := daErr.(type) {
		case ErrorCode:
			err = daErr.WithDetail(nil)
		case Error:
			err = daErr
		default:
			err = ErrorCodeUnknown.WithDetail(daErr.Error())
		}

		out.Errors = append(out.Errors, jsonError{
			Code:    err.Code,
			Message: err.Message,
			Detail:  err.Detail,
		})
	}

	if out.Errors == nil {
		out.Errors = []jsonError{}
	}

	return json.Marshal(out)
}

// ServeJSON writes errs as the OCI distribution error envelope to w, using
// the HTTP status of the first error (the registry always reports a single
// status per response even when multiple errors accumulated, matching the
// teacher's singleStatusResponseWriter behavior).
func ServeJSON(w http.ResponseWriter, errs Errors) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	status := http.StatusInternalServerError
	if len(errs) > 0 {
		if ec, ok := errs[0].(ErrorCode); ok {
			status = ec.Descriptor().HTTPStatusCode
		} else if e, ok := errs[0].(Error); ok {
			status = e.Code.Descriptor().HTTPStatusCode
		}
	}

	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(errs)
}
