package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	gorillahandlers "github.com/gorilla/handlers"

	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/registry/api/errcode"
)

// catalogDispatcher handles C7: GET /v2/_catalog, the only route that needs
// no repository name.
func catalogDispatcher(ctx *Context, r *http.Request) http.Handler {
	ch := &catalogHandler{Context: ctx}
	return gorillahandlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(ch.GetCatalog),
	}
}

type catalogHandler struct {
	*Context
}

type catalogAPIResponse struct {
	Repositories []string `json:"repositories"`
}

// GetCatalog lists repository names, sorted lexicographically and paginated
// by the `n`/`last` query parameters.
func (ch *catalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	limit, last := parsePagination(r, ch.DefaultPageSize, ch.MaxPageSize)

	repos, more, err := ch.registry.Catalog(ch, last, limit)
	if err != nil {
		dcontext.GetLogger(ch).Errorf("error listing repositories: %v", err)
		ch.Errors = append(ch.Errors, errcode.ErrorCodeUnknown.WithDetail(err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if repos == nil {
		repos = []string{}
	}

	if more && len(repos) > 0 {
		values := url.Values{
			"n":    []string{strconv.Itoa(limit)},
			"last": []string{repos[len(repos)-1]},
		}
		if nextURL, err := ch.urlBuilder.BuildCatalogURL(values); err == nil {
			setLinkHeader(w, nextURL)
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(catalogAPIResponse{Repositories: repos})
}
