// Package metrics defines the registry's docker/go-metrics namespaces,
// registered globally so the debug listener can serve them through
// github.com/docker/go-metrics's own http.Handler, mounted at
// HTTP.Debug.Prometheus.Path (default /metrics) when Prometheus is enabled.
package metrics

import "github.com/docker/go-metrics"

// NamespacePrefix is the root namespace every registry metric is published
// under.
const NamespacePrefix = "registry"

var (
	// StorageNamespace covers blob and manifest store operations: C3, C5,
	// and C6's read/write/delete paths.
	StorageNamespace = metrics.NewNamespace(NamespacePrefix, "storage", nil)

	// HTTPNamespace covers request counts and latency for the C5-C7 HTTP
	// surface, labeled by route name.
	HTTPNamespace = metrics.NewNamespace(NamespacePrefix, "http", nil)

	// GCNamespace covers C8's mark-and-sweep pass: how long a run took and
	// how many bytes it freed.
	GCNamespace = metrics.NewNamespace(NamespacePrefix, "gc", nil)
)

var (
	// StorageOperations counts blob/manifest store calls, labeled by
	// operation ("stat", "get", "put", "delete") and outcome ("success",
	// "error").
	StorageOperations = StorageNamespace.NewLabeledCounter("operations", "number of storage operations", "operation", "outcome")

	// StorageOperationDuration times the same calls.
	StorageOperationDuration = StorageNamespace.NewLabeledTimer("operation_duration_seconds", "duration of storage operations", "operation")

	// HTTPRequests counts handled requests, labeled by route name and
	// response status class.
	HTTPRequests = HTTPNamespace.NewLabeledCounter("requests", "number of http requests", "route", "status")

	// HTTPRequestDuration times handled requests, labeled by route name.
	HTTPRequestDuration = HTTPNamespace.NewLabeledTimer("request_duration_seconds", "duration of http requests", "route")

	// GCRunDuration times a complete mark-and-sweep pass.
	GCRunDuration = GCNamespace.NewTimer("run_duration_seconds", "duration of a garbage collection run")

	// GCBytesFreed is the cumulative size of blobs deleted by sweep.
	GCBytesFreed = GCNamespace.NewCounter("bytes_freed_total", "cumulative bytes freed by garbage collection")

	// GCBlobsDeleted is the cumulative count of blobs deleted by sweep.
	GCBlobsDeleted = GCNamespace.NewCounter("blobs_deleted_total", "cumulative blobs deleted by garbage collection")
)

func init() {
	metrics.Register(StorageNamespace)
	metrics.Register(HTTPNamespace)
	metrics.Register(GCNamespace)
}
