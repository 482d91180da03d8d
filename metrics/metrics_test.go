package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// These exercise the package's init-time wiring rather than any numeric
// output: docker/go-metrics exposes no getter, so the most we can assert is
// that every labeled/unlabeled metric accepts calls without panicking.

func TestStorageOperationsAcceptsLabeledCalls(t *testing.T) {
	require.NotPanics(t, func() {
		StorageOperations.WithValues("get", "success").Inc(1)
		StorageOperationDuration.WithValues("get").UpdateSince(time.Now())
	})
}

func TestHTTPMetricsAcceptLabeledCalls(t *testing.T) {
	require.NotPanics(t, func() {
		HTTPRequests.WithValues("manifest", "2xx").Inc(1)
		HTTPRequestDuration.WithValues("manifest").UpdateSince(time.Now())
	})
}

func TestGCMetricsAcceptUnlabeledCalls(t *testing.T) {
	require.NotPanics(t, func() {
		GCRunDuration.UpdateSince(time.Now())
		GCBytesFreed.Inc(1024)
		GCBlobsDeleted.Inc(1)
	})
}
