package handlers

import (
	"context"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/registry/api/errcode"
)

// serveJSON writes errs as the OCI distribution error envelope, using the
// HTTP status of the first accumulated error. Per spec.md §7, an
// ErrorCodeUnknown's detail (the underlying Go error, which may contain a
// file path, driver internals, or other server detail) is logged in full
// server-side and only echoed to the client when debug is true; in every
// other mode the client sees just "unknown error" with no detail, so no
// internal state leaks in a production response.
func serveJSON(ctx context.Context, w http.ResponseWriter, errs errcode.Errors, debug bool) {
	if !debug {
		errs = redactUnknownDetail(ctx, errs)
	}
	_ = errcode.ServeJSON(w, errs)
}

// redactUnknownDetail returns a copy of errs with every ErrorCodeUnknown's
// Detail logged and then stripped, leaving every other error code (whose
// Message is already safe to expose) untouched.
func redactUnknownDetail(ctx context.Context, errs errcode.Errors) errcode.Errors {
	redacted := make(errcode.Errors, len(errs))
	for i, e := range errs {
		ec, ok := e.(errcode.Error)
		if !ok || ec.Code != errcode.ErrorCodeUnknown || ec.Detail == nil {
			redacted[i] = e
			continue
		}
		dcontext.GetLogger(ctx).Errorf("internal error: %v", ec.Detail)
		redacted[i] = ec.WithDetail(nil)
	}
	return redacted
}

// parsePagination reads the `n`/`last` query parameters shared by the tag
// and catalog listing routes. An invalid or non-positive `n` falls back to
// defaultLimit per spec.md §4.7; the result is capped at maxLimit.
func parsePagination(r *http.Request, defaultLimit, maxLimit int) (limit int, last string) {
	limit = defaultLimit

	if n := r.URL.Query().Get("n"); n != "" {
		if parsed, err := strconv.Atoi(n); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return limit, r.URL.Query().Get("last")
}

// setLinkHeader sets the RFC 5988 Link header a paginated listing response
// uses to point at its next page.
func setLinkHeader(w http.ResponseWriter, nextURL string) {
	w.Header().Set("Link", "<"+nextURL+">; rel=\"next\"")
}

// acceptsMediaType reports whether any media range in the request's Accept
// header matches mediaType, honoring exact matches, "type/*" and "*/*"
// wildcards, and treating a missing/empty header as "accepts anything" per
// spec.md §4.6.
func acceptsMediaType(r *http.Request, mediaType string) bool {
	header := r.Header.Get("Accept")
	if header == "" {
		return true
	}

	wantType, wantSubtype, ok := splitMediaType(mediaType)
	if !ok {
		return false
	}

	for _, candidate := range parseAccept(header) {
		if candidate.quality == 0 {
			continue
		}
		if candidate.typ == "*" && candidate.subtype == "*" {
			return true
		}
		if candidate.typ == wantType && candidate.subtype == "*" {
			return true
		}
		if candidate.typ == wantType && candidate.subtype == wantSubtype {
			return true
		}
	}
	return false
}

type acceptRange struct {
	typ, subtype string
	quality      float64
}

// parseAccept splits an Accept header into its media ranges, defaulting a
// range with no explicit q parameter to quality 1.
func parseAccept(header string) []acceptRange {
	var ranges []acceptRange
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		mt, params, err := mime.ParseMediaType(part)
		if err != nil {
			continue
		}

		typ, subtype, ok := splitMediaType(mt)
		if !ok {
			continue
		}

		quality := 1.0
		if q, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(q, 64); err == nil {
				quality = parsed
			}
		}

		ranges = append(ranges, acceptRange{typ: typ, subtype: subtype, quality: quality})
	}

	// Sort highest quality first so a caller that only wants the best match
	// can stop at the first hit; acceptsMediaType itself doesn't need the
	// order; ambiguity resolution does.
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].quality > ranges[j].quality })
	return ranges
}

func splitMediaType(mediaType string) (typ, subtype string, ok bool) {
	parts := strings.SplitN(mediaType, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// copyFullPayload streams r's body into dst, capping it at limit bytes
// when limit is positive. Used for manifest PUTs, which spec.md says may
// be buffered in full since manifests are small.
func copyFullPayload(w http.ResponseWriter, r *http.Request, dst io.Writer, limit int64) (int64, error) {
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, body, limit)
	}
	return io.Copy(dst, body)
}
