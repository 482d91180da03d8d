package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gorillahandlers "github.com/gorilla/handlers"

	"github.com/ocireg/registry/digest"
	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/manifest"
	"github.com/ocireg/registry/reference"
	"github.com/ocireg/registry/registry/api/errcode"
	"github.com/ocireg/registry/registry/storage"
)

// blobUploadDispatcher handles C4: starting, resuming, appending to,
// finalizing, and aborting an upload session.
func blobUploadDispatcher(ctx *Context, r *http.Request) http.Handler {
	buh := &blobUploadHandler{Context: ctx, UUID: getUploadUUID(ctx)}

	handler := http.Handler(gorillahandlers.MethodHandler{
		http.MethodPost:   http.HandlerFunc(buh.StartBlobUpload),
		http.MethodGet:    http.HandlerFunc(buh.GetUploadStatus),
		http.MethodHead:   http.HandlerFunc(buh.GetUploadStatus),
		http.MethodPatch:  http.HandlerFunc(buh.PatchBlobData),
		http.MethodPut:    http.HandlerFunc(buh.PutBlobUploadComplete),
		http.MethodDelete: http.HandlerFunc(buh.CancelBlobUpload),
	})

	if buh.UUID == "" {
		return handler
	}

	upload, err := ctx.Repository.Blobs().Resume(ctx, buh.UUID)
	if err != nil {
		dcontext.GetLogger(ctx).Errorf("error resolving upload %s: %v", buh.UUID, err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isErr(err, storage.ErrBlobUploadUnknown) {
				buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown.WithDetail(buh.UUID))
				w.WriteHeader(http.StatusNotFound)
				return
			}
			buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		})
	}
	buh.Upload = upload

	return handler
}

type blobUploadHandler struct {
	*Context

	// UUID identifies the upload session this request addresses, empty on
	// the start-upload route.
	UUID string

	Upload *storage.BlobWriter
}

// StartBlobUpload begins a new upload session (C4: — -> OPEN), unless the
// request carries `mount`/`from`, in which case it performs a cross-repo
// mount with no upload session at all, or `digest` with a body, in which
// case it completes a monolithic upload in one request.
func (buh *blobUploadHandler) StartBlobUpload(w http.ResponseWriter, r *http.Request) {
	if fromRepo := r.FormValue("from"); fromRepo != "" {
		if mountDigestStr := r.FormValue("mount"); mountDigestStr != "" {
			buh.mountBlob(w, r, fromRepo, mountDigestStr)
			return
		}
	}

	upload, err := buh.Repository.Blobs().NewUpload(buh)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	buh.Upload = upload
	buh.UUID = upload.ID()

	if dgstStr := r.FormValue("digest"); dgstStr != "" {
		buh.completeUpload(w, r, dgstStr)
		return
	}

	if err := buh.writeUploadResponse(w); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.WriteHeader(http.StatusAccepted)
}

func (buh *blobUploadHandler) mountBlob(w http.ResponseWriter, r *http.Request, fromRepo, dgstStr string) {
	if err := reference.ValidateName(fromRepo); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeNameInvalid.WithDetail(err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	desc, err := buh.Repository.Blobs().Mount(buh, fromRepo, dgst)
	if err != nil {
		if isErr(err, storage.ErrBlobUnknown) {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUnknown.WithDetail(dgst))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	blobURL, err := buh.urlBuilder.BuildBlobURL(buh.Repository.Name(), desc.Digest.String())
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", blobURL)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", desc.Digest.String())
	w.WriteHeader(http.StatusCreated)
}

// GetUploadStatus reports the current offset of an open session.
func (buh *blobUploadHandler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	if buh.Upload == nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown.WithDetail(buh.UUID))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := buh.writeUploadResponse(w); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.WriteHeader(http.StatusNoContent)
}

// PatchBlobData appends the request body to the session. When the request
// carries a Content-Range header, its start must match the session's
// current offset exactly, per 4.4's contiguity rule; a mismatch is reported
// as a 416 with the session's actual current Range.
func (buh *blobUploadHandler) PatchBlobData(w http.ResponseWriter, r *http.Request) {
	if buh.Upload == nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown.WithDetail(buh.UUID))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	expectedStart := int64(-1)
	if cr := r.Header.Get("Content-Range"); cr != "" {
		start, _, err := parseContentRange(cr)
		if err != nil {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeRangeInvalid.WithDetail(err.Error()))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		expectedStart = start
	}

	if _, err := buh.Upload.Append(buh, r.Body, expectedStart); err != nil {
		if isErr(err, storage.ErrContentRangeInvalid) {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeRangeInvalid.WithDetail(err.Error()))
			if werr := buh.writeUploadResponse(w); werr != nil {
				buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(werr.Error()))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadInvalid.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := buh.writeUploadResponse(w); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.WriteHeader(http.StatusAccepted)
}

// PutBlobUploadComplete takes the final request of an upload session,
// appending any trailing body and verifying the combined content against
// the client-declared digest before linking the blob into the repository
// (C4: OPEN -> COMMITTED).
func (buh *blobUploadHandler) PutBlobUploadComplete(w http.ResponseWriter, r *http.Request) {
	if buh.Upload == nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown.WithDetail(buh.UUID))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	dgstStr := r.FormValue("digest")
	if dgstStr == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("digest missing"))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	buh.completeUpload(w, r, dgstStr)
}

func (buh *blobUploadHandler) completeUpload(w http.ResponseWriter, r *http.Request, dgstStr string) {
	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	desc, err := buh.Upload.Commit(buh, manifest.Descriptor{Digest: dgst}, r.Body)
	if err != nil {
		if isErr(err, storage.ErrDigestInvalid) {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		dcontext.GetLogger(buh).Errorf("error completing upload %s: %v", buh.UUID, err)
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	blobURL, err := buh.urlBuilder.BuildBlobURL(buh.Repository.Name(), desc.Digest.String())
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", blobURL)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", desc.Digest.String())
	w.WriteHeader(http.StatusCreated)
}

// CancelBlobUpload aborts an open session (C4: OPEN -> ABORTED).
func (buh *blobUploadHandler) CancelBlobUpload(w http.ResponseWriter, r *http.Request) {
	if buh.Upload == nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown.WithDetail(buh.UUID))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	if err := buh.Upload.Cancel(buh); err != nil {
		dcontext.GetLogger(buh).Errorf("error canceling upload %s: %v", buh.UUID, err)
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeUploadResponse sets the headers common to every response that
// reports an upload session's current state: its resume Location and its
// Range, expressed as "0-<offset-1>", or "0-0" for an empty session per
// spec 4.4.
func (buh *blobUploadHandler) writeUploadResponse(w http.ResponseWriter) error {
	offset, err := buh.Upload.Size(buh)
	if err != nil {
		return err
	}

	uploadURL, err := buh.urlBuilder.BuildBlobUploadChunkURL(buh.Repository.Name(), buh.UUID)
	if err != nil {
		return err
	}

	endRange := offset
	if endRange > 0 {
		endRange--
	}

	w.Header().Set("Location", uploadURL)
	w.Header().Set("Range", fmt.Sprintf("0-%d", endRange))
	return nil
}

// parseContentRange parses a request's "Content-Range: <start>-<end>" header,
// as sent on a PATCH chunk. The trailing "/<size>" some clients append is
// accepted but ignored, since Append only needs start to check contiguity.
func parseContentRange(header string) (start, end int64, err error) {
	rangePart, _, _ := strings.Cut(header, "/")
	rStart, rEnd, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, errors.New("handlers: malformed Content-Range header")
	}

	start, err = strconv.ParseInt(rStart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("handlers: malformed Content-Range header: %w", err)
	}
	end, err = strconv.ParseInt(rEnd, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("handlers: malformed Content-Range header: %w", err)
	}

	if start < 0 || end < start {
		return 0, 0, errors.New("handlers: invalid Content-Range bounds")
	}
	return start, end, nil
}
