package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	gorillahandlers "github.com/gorilla/handlers"

	"github.com/ocireg/registry/digest"
	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/registry/api/errcode"
	"github.com/ocireg/registry/registry/storage"
)

// isErr reports whether err wraps target, the common helper every handler
// uses to translate a storage-layer sentinel into an OCI error code.
func isErr(err, target error) bool {
	return errors.Is(err, target)
}

// blobDispatcher handles C5: HEAD, GET and DELETE against an already-stored
// blob identified by digest.
func blobDispatcher(ctx *Context, r *http.Request) http.Handler {
	dgst, err := getDigest(ctx)
	if err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		})
	}

	bh := &blobHandler{Context: ctx, Digest: dgst}

	return gorillahandlers.MethodHandler{
		http.MethodGet:    http.HandlerFunc(bh.GetBlob),
		http.MethodHead:   http.HandlerFunc(bh.GetBlob),
		http.MethodDelete: http.HandlerFunc(bh.DeleteBlob),
	}
}

type blobHandler struct {
	*Context

	Digest digest.Digest
}

// GetBlob implements the HEAD and GET blob routes. HEAD never reads the
// blob's content; GET streams it, honoring a single Range header per spec
// 4.5 and never leaking the backing file on a write error.
func (bh *blobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	blobs := bh.Repository.Blobs()

	desc, err := blobs.Stat(bh, bh.Digest)
	if err != nil {
		bh.blobError(w, err)
		return
	}

	w.Header().Set("Docker-Content-Digest", desc.Digest.String())
	w.Header().Set("Content-Type", blobContentType(desc))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Etag", fmt.Sprintf(`"%s"`, desc.Digest))

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(desc.Size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end, hasRange, err := parseRangeHeader(r.Header.Get("Range"), desc.Size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", desc.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	reader, err := blobs.Open(bh, bh.Digest, start)
	if err != nil {
		bh.blobError(w, err)
		return
	}
	defer reader.Close()

	length := desc.Size - start
	if hasRange {
		length = end - start + 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, desc.Size))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusOK)
	}

	if _, err := io.CopyN(w, reader, length); err != nil {
		dcontext.GetLogger(bh).Errorf("error streaming blob %s: %v", bh.Digest, err)
	}
}

// DeleteBlob implements C5's blob DELETE: it requires an existing layer
// link and only removes the underlying blob once no repository still
// references it.
func (bh *blobHandler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	blobs := bh.Repository.Blobs()

	if err := blobs.Delete(bh, bh.Digest); err != nil {
		bh.blobError(w, err)
		return
	}

	w.Header().Del("Content-Length")
	w.WriteHeader(http.StatusAccepted)
}

func (bh *blobHandler) blobError(w http.ResponseWriter, err error) {
	dcontext.GetLogger(bh).Errorf("error resolving blob %s: %v", bh.Digest, err)

	switch {
	case isErr(err, storage.ErrBlobUnknown):
		bh.Errors = append(bh.Errors, errcode.ErrorCodeBlobUnknown.WithDetail(bh.Digest))
		w.WriteHeader(http.StatusNotFound)
	default:
		bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func blobContentType(desc manifest.Descriptor) string {
	if desc.MediaType != "" {
		return desc.MediaType
	}
	return "application/octet-stream"
}

// parseRangeHeader parses a single-range "bytes=start-end" Range header
// against size. An absent header is not an error: hasRange is false and the
// full blob should be served.
func parseRangeHeader(header string, size int64) (start, end int64, hasRange bool, err error) {
	if header == "" {
		return 0, 0, false, nil
	}

	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("handlers: malformed range header %q", header)
	}

	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false, err
	}

	if parts[1] == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false, err
		}
	}

	if start < 0 || end < start || start >= size {
		return 0, 0, false, fmt.Errorf("handlers: range %d-%d out of bounds for size %d", start, end, size)
	}
	if end >= size {
		end = size - 1
	}

	return start, end, true, nil
}
