package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	gorillahandlers "github.com/gorilla/handlers"

	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/registry/api/errcode"
	"github.com/ocireg/registry/registry/storage"
)

// tagsDispatcher handles the listing half of C7: GET /v2/<name>/tags/list.
func tagsDispatcher(ctx *Context, r *http.Request) http.Handler {
	th := &tagsHandler{Context: ctx}
	return gorillahandlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(th.GetTags),
	}
}

type tagsHandler struct {
	*Context
}

type tagsAPIResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// GetTags lists a repository's tags, sorted lexicographically and paginated
// by the `n`/`last` query parameters per spec 4.7.
func (th *tagsHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	limit, last := parsePagination(r, th.DefaultPageSize, th.MaxPageSize)

	tags, more, err := th.Repository.Tags().All(th, last, limit)
	if err != nil {
		if isErr(err, storage.ErrNameUnknown) {
			th.Errors = append(th.Errors, errcode.ErrorCodeNameUnknown.WithDetail(th.Repository.Name()))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		dcontext.GetLogger(th).Errorf("error listing tags for %s: %v", th.Repository.Name(), err)
		th.Errors = append(th.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if more && len(tags) > 0 {
		values := url.Values{
			"n":    []string{strconv.Itoa(limit)},
			"last": []string{tags[len(tags)-1]},
		}
		if nextURL, err := th.urlBuilder.BuildTagsURL(th.Repository.Name(), values); err == nil {
			setLinkHeader(w, nextURL)
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(tagsAPIResponse{Name: th.Repository.Name(), Tags: tags})
}
