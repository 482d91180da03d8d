package dcontext

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Background creates an empty context with a unique instance id attached
// for correlating background operations (such as garbage collection) that
// are not driven by an incoming request.
func Background() context.Context {
	return context.WithValue(context.Background(), "instance.id", uuid.NewString())
}

// WithVars extracts gorilla/mux route variables from the request and
// attaches each one to the context under its own "vars.<name>" key, so
// GetLogger(ctx, "vars.name", ...) and GetStringValue(ctx, "vars.name")
// both resolve it with a plain ctx.Value lookup.
func WithVars(ctx context.Context, vars map[string]string) context.Context {
	for k, v := range vars {
		ctx = context.WithValue(ctx, "vars."+k, v)
	}
	return ctx
}

// GetStringValue returns the string stored at key, or the empty string if
// it is not present or not a string.
func GetStringValue(ctx context.Context, key string) string {
	v, _ := ctx.Value(key).(string)
	return v
}

type requestKey struct{}

// WithRequest returns a copy of ctx carrying r, retrievable with
// GetRequest. The request itself is not modified.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// GetRequest returns the http request in the given context, if present.
func GetRequest(ctx context.Context) (*http.Request, bool) {
	r, ok := ctx.Value(requestKey{}).(*http.Request)
	return r, ok
}

type responseWriterKey struct{}

// WithResponseWriter stores the http.ResponseWriter in the context so
// deferred handlers can flush or stamp additional headers before the
// response is finalized.
func WithResponseWriter(ctx context.Context, w http.ResponseWriter) context.Context {
	return context.WithValue(ctx, responseWriterKey{}, w)
}

// GetResponseWriter returns the http.ResponseWriter stored in the context
// by WithResponseWriter, if present.
func GetResponseWriter(ctx context.Context) (http.ResponseWriter, bool) {
	w, ok := ctx.Value(responseWriterKey{}).(http.ResponseWriter)
	return w, ok
}
