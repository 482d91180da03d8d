// Package handlers implements C5 through C7 and C10: the HTTP surface of
// the registry, dispatched through a named-route table shared with
// registry/api/v2's reverse URL builder.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocireg/registry/configuration"
	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/metrics"
	"github.com/ocireg/registry/reference"
	"github.com/ocireg/registry/registry/api/errcode"
	v2 "github.com/ocireg/registry/registry/api/v2"
	"github.com/ocireg/registry/registry/storage"
	"github.com/ocireg/registry/registry/storage/cache"
	"github.com/ocireg/registry/registry/storage/cache/memory"
	"github.com/ocireg/registry/registry/storage/cache/redis"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
	"github.com/ocireg/registry/registry/storage/driver/factory"
)

// App is the registry's top-level HTTP application. One App is constructed
// per process and shared by every request.
type App struct {
	context.Context

	Config configuration.Configuration

	// InstanceID identifies this process in logs, so a restart is visible
	// in aggregated log output.
	InstanceID string

	router        *mux.Router
	driver        storagedriver.StorageDriver
	registry      *storage.Registry
	cacheProvider cache.BlobDescriptorCacheProvider
}

// NewApp constructs and wires an App from config, panicking if the
// configured storage driver cannot be created — the same fail-fast
// behavior the teacher's NewApp uses, since a registry with no usable
// storage cannot serve a single request.
func NewApp(ctx context.Context, config configuration.Configuration) *App {
	app := &App{
		Context:    ctx,
		Config:     config,
		InstanceID: uuid.NewString(),
		router:     v2.RouterWithPrefix(config.HTTP.Prefix),
	}

	app.Context = dcontext.WithLogger(app.Context, dcontext.GetLogger(app.Context, "app.id"))

	app.register(v2.RouteNameBase, func(ctx *Context, r *http.Request) http.Handler {
		return http.HandlerFunc(apiBase)
	})
	app.register(v2.RouteNameManifest, manifestDispatcher)
	app.register(v2.RouteNameTags, tagsDispatcher)
	app.register(v2.RouteNameBlob, blobDispatcher)
	app.register(v2.RouteNameBlobUpload, blobUploadDispatcher)
	app.register(v2.RouteNameBlobUploadChunk, blobUploadDispatcher)
	app.register(v2.RouteNameCatalog, catalogDispatcher)

	driver, err := factory.Create(ctx, config.Storage.Type(), config.Storage.Parameters())
	if err != nil {
		panic(fmt.Sprintf("handlers: unable to configure storage driver (%s): %v", config.Storage.Type(), err))
	}
	app.driver = driver

	var cacheProvider cache.BlobDescriptorCacheProvider
	if len(config.Redis.Options.Addrs) > 0 {
		params := map[string]interface{}{"addr": config.Redis.Options.Addrs[0]}
		if config.Redis.Options.Password != "" {
			params["password"] = config.Redis.Options.Password
		}
		if config.Redis.Options.DB != 0 {
			params["db"] = config.Redis.Options.DB
		}
		cacheProvider, err = redis.NewBlobDescriptorCacheProvider(ctx, params)
		if err != nil {
			panic(fmt.Sprintf("handlers: unable to configure redis blob descriptor cache: %v", err))
		}
	} else {
		cacheProvider, err = memory.NewBlobDescriptorCacheProvider(ctx, nil)
		if err != nil {
			panic(fmt.Sprintf("handlers: unable to configure in-memory blob descriptor cache: %v", err))
		}
	}

	app.cacheProvider = cacheProvider
	app.registry = storage.NewRegistry(app.driver, cacheProvider, config.Catalog, config.Upload.Timeout)

	return app
}

// register binds a dispatchFunc to routeName, wrapping it in the per-request
// dispatcher so handler code never touches request-scoped setup directly.
func (app *App) register(routeName string, dispatch dispatchFunc) {
	app.router.GetRoute(routeName).Handler(app.dispatcher(dispatch))
}

// ServeHTTP implements http.Handler.
func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	w.Header().Add("Docker-Distribution-API-Version", "registry/2.0")
	app.router.ServeHTTP(w, r)
}

// dispatchFunc builds a request-specific http.Handler from a request-scoped
// Context, so a single App.router does not need a new router built per
// request.
type dispatchFunc func(ctx *Context, r *http.Request) http.Handler

// singleStatusResponseWriter only allows the first WriteHeader call to take
// effect, so a handler that both streams a body and later notices an error
// cannot corrupt an already-committed response.
type singleStatusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (ssrw *singleStatusResponseWriter) WriteHeader(status int) {
	if ssrw.status != 0 {
		return
	}
	ssrw.status = status
	ssrw.ResponseWriter.WriteHeader(status)
}

func (ssrw *singleStatusResponseWriter) Flush() {
	if flusher, ok := ssrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// dispatcher builds the per-request Context, resolves the repository named
// by the route (every route but the base and catalog routes requires one),
// and runs dispatch's handler. If the handler accumulated any errors, the
// dispatcher serializes them as the response body exactly once, per C10,
// using status 400 when the handler set no status of its own.
func (app *App) dispatcher(dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeName(r)

		context := app.context(w, r)

		defer dcontext.GetLogger(context).Info("response completed")

		ssrw := &singleStatusResponseWriter{ResponseWriter: w}
		defer func() { recordHTTPRequest(route, ssrw.status, start) }()

		if app.nameRequired(r) {
			name := getName(context)
			if err := reference.ValidateName(name); err != nil {
				context.Errors = append(context.Errors, errcode.ErrorCodeNameInvalid.WithDetail(err.Error()))
				ssrw.WriteHeader(http.StatusBadRequest)
				serveJSON(context, ssrw, context.Errors, app.debug())
				return
			}
			context.Repository = app.registry.Repository(name)
		}

		handler := dispatch(context, r)
		handler.ServeHTTP(ssrw, r)

		if context.Errors.Len() > 0 {
			if ssrw.status == 0 {
				ssrw.WriteHeader(http.StatusBadRequest)
			}
			serveJSON(context, ssrw, context.Errors, app.debug())
		}
	})
}

// routeName identifies the matched mux route for metrics labeling, falling
// back to "unknown" for a request that never matched one (e.g. a 404 from
// outside the router's known paths).
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
	}
	return "unknown"
}

// recordHTTPRequest updates the request counter and duration timer every
// dispatched request goes through, labeled by route and response status
// class ("2xx", "4xx", "5xx").
func recordHTTPRequest(route string, status int, start time.Time) {
	if status == 0 {
		status = http.StatusOK
	}
	class := strconv.Itoa(status/100) + "xx"
	metrics.HTTPRequests.WithValues(route, class).Inc(1)
	metrics.HTTPRequestDuration.WithValues(route).UpdateSince(start)
}

// context constructs the per-request Context. Called exactly once per
// request, by dispatcher.
func (app *App) context(w http.ResponseWriter, r *http.Request) *Context {
	ctx := dcontext.WithRequest(app.Context, r)
	ctx = dcontext.WithResponseWriter(ctx, w)
	ctx = dcontext.WithVars(ctx, mux.Vars(r))
	ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx,
		"vars.name",
		"vars.reference",
		"vars.digest",
		"vars.uuid"))

	return &Context{
		Context:                ctx,
		registry:               app.registry,
		DefaultPageSize:        app.registry.DefaultPageSize(),
		MaxPageSize:            app.registry.MaxPageSize(),
		AllowedManifestClasses: app.Config.Policy.Repository.Classes,
		urlBuilder:             v2.NewURLBuilderFromRequest(r),
	}
}

// Shutdown releases resources held by the App's storage driver, if the
// driver supports it. A process exiting after this call has no further
// obligation to the App.
func (app *App) Shutdown() error {
	if closer, ok := app.driver.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// nameRequired reports whether the currently matched route requires a
// repository name — every route except the base and catalog routes.
func (app *App) nameRequired(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	if route == nil {
		return true
	}
	switch route.GetName() {
	case v2.RouteNameBase, v2.RouteNameCatalog:
		return false
	default:
		return true
	}
}

// debug reports whether unexpected-error detail should be echoed to
// clients. Per spec.md §7, that only happens in a development deployment,
// signaled by setting log.level: debug; every other level keeps the detail
// server-side only.
func (app *App) debug() bool {
	return app.Config.Log.Level == "debug"
}

// apiBase answers GET /v2/, the version check every client probes before
// doing anything else.
func apiBase(w http.ResponseWriter, r *http.Request) {
	const emptyJSON = "{}"
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", fmt.Sprint(len(emptyJSON)))
	fmt.Fprint(w, emptyJSON)
}
