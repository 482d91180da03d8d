// Package reference validates the three string forms the registry accepts
// from a URL path: repository names, tags, and upload session IDs. It also
// guards against path traversal when those strings are mapped onto the
// storage driver's filesystem-shaped key space.
package reference

import "regexp"

// Regular expression fragments, composed bottom-up the way a grammar
// description reads: alphanumerics, separators, then full components.
var (
	alphaNumeric = `[a-z0-9]+`
	separator    = `(?:[._]|__|[-]+)`

	// pathComponent matches a single "/"-delimited segment of a repository
	// name: lowercase alphanumerics, optionally broken up by a single
	// separator run.
	pathComponent = expression(
		alphaNumeric,
		optional(repeated(separator, alphaNumeric)),
	)

	// NameRegexp matches a complete repository name: one or more
	// "/"-delimited path components.
	NameRegexp = regexp.MustCompile(expression(
		pathComponent,
		optional(repeated(`/`, pathComponent)),
	))

	// TagRegexp matches a valid tag value.
	TagRegexp = regexp.MustCompile(`[\w][\w.-]{0,127}`)

	// anchoredTagRegexp is used to parse a tag value, anchored at start and end.
	anchoredTagRegexp = anchored(TagRegexp)

	// anchoredNameRegexp is used to parse a name value, anchored at start and end.
	anchoredNameRegexp = anchored(NameRegexp)

	// DigestRegexp matches a well-formed <algorithm>:<hex> digest reference.
	DigestRegexp = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]*(?:[-_+.][A-Za-z][A-Za-z0-9]*)*:[0-9a-fA-F]{32,}`)

	// ReferenceRegexp matches either a tag or a digest, the two forms the
	// {reference} segment of a manifest route may take.
	ReferenceRegexp = regexp.MustCompile(expression(
		`(?:`, TagRegexp.String(), `|`, DigestRegexp.String(), `)`,
	))
)

func expression(res ...string) string {
	s := ""
	for _, re := range res {
		s += re
	}
	return s
}

func optional(res ...string) string {
	return group(expression(res...)) + `?`
}

func repeated(res ...string) string {
	return group(expression(res...)) + `+`
}

func group(res ...string) string {
	return `(?:` + expression(res...) + `)`
}

func anchored(re *regexp.Regexp) *regexp.Regexp {
	return regexp.MustCompile(`^` + re.String() + `$`)
}
