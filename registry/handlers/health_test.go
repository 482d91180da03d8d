package handlers

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileCheckerFailsWhenFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unhealthy")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.Error(t, fileChecker(path).Check(context.Background()))
}

func TestFileCheckerPassesWhenFileAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-created")
	require.NoError(t, fileChecker(path).Check(context.Background()))
}

func TestHTTPCheckerMatchesExpectedStatus(t *testing.T) {
	server := httptest.NewServer(nil)
	defer server.Close()

	require.NoError(t, httpChecker(server.URL, 404, 0, nil).Check(context.Background()))
}

func TestHTTPCheckerFailsOnMismatchedStatus(t *testing.T) {
	server := httptest.NewServer(nil)
	defer server.Close()

	require.Error(t, httpChecker(server.URL, 200, 0, nil).Check(context.Background()))
}

func TestTCPCheckerFailsOnUnreachableAddr(t *testing.T) {
	require.Error(t, tcpChecker("127.0.0.1:0", 0).Check(context.Background()))
}

func TestStorageDriverCheckerPassesForFreshDriver(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, storageDriverChecker(app.driver).Check(context.Background()))
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestCacheCheckerReflectsPingResult(t *testing.T) {
	require.NoError(t, cacheChecker(fakePinger{}).Check(context.Background()))

	boom := errors.New("boom")
	require.ErrorIs(t, cacheChecker(fakePinger{err: boom}).Check(context.Background()), boom)
}

func TestRegisterHealthChecksSkipsCacheForMemoryProvider(t *testing.T) {
	app := newTestApp(t)

	// The in-memory cache provider has nothing to ping, so it must not
	// satisfy cache.Pinger; RegisterHealthChecks relies on exactly this
	// type assertion to decide whether to register the "cache" check, and
	// calling it here must not panic or register anything against
	// health.DefaultRegistry (app.Config.Health is left at its zero value,
	// so every other checker kind is skipped too).
	_, ok := app.cacheProvider.(interface{ Ping(context.Context) error })
	require.False(t, ok, "in-memory cache provider must not satisfy cache.Pinger")

	require.NotPanics(t, app.RegisterHealthChecks)
}
