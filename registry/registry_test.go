package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocireg/registry/configuration"
	_ "github.com/ocireg/registry/manifest/ocischema"
	_ "github.com/ocireg/registry/registry/storage/driver/filesystem"
)

func testConfig(t *testing.T) *configuration.Configuration {
	t.Helper()
	return &configuration.Configuration{
		Storage: configuration.Storage{
			"filesystem": configuration.Parameters{"rootdirectory": t.TempDir()},
		},
		Catalog: configuration.Catalog{DefaultLimit: 100, MaxLimit: 1000},
		Upload:  configuration.Upload{Timeout: time.Minute},
	}
}

func TestNewRegistryServesBaseRoute(t *testing.T) {
	registry, err := NewRegistry(context.Background(), testConfig(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v2/", nil)
	w := httptest.NewRecorder()
	registry.server.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestNewRegistryAliveEndpointBypassesApp(t *testing.T) {
	registry, err := NewRegistry(context.Background(), testConfig(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	registry.server.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
}

func TestRegistryShutdownClosesServerAndDriver(t *testing.T) {
	registry, err := NewRegistry(context.Background(), testConfig(t))
	require.NoError(t, err)

	require.NoError(t, registry.Shutdown(context.Background()))
}

func TestResolveConfigurationRequiresPath(t *testing.T) {
	_, err := resolveConfiguration(nil)
	require.Error(t, err)
}

func TestResolveConfigurationParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	yaml := "version: 0.1\nstorage:\n  filesystem:\n    rootdirectory: " + dir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	config, err := resolveConfiguration([]string{path})
	require.NoError(t, err)
	require.Equal(t, "filesystem", config.Storage.Type())
}

func TestResolveConfigurationMissingFile(t *testing.T) {
	_, err := resolveConfiguration([]string{"/nonexistent/path/to/config.yaml"})
	require.Error(t, err)
}

func TestConfigureLoggingDefaultFormatter(t *testing.T) {
	config := &configuration.Configuration{}
	_, err := configureLogging(context.Background(), config)
	require.NoError(t, err)
}

func TestConfigureLoggingUnsupportedFormatter(t *testing.T) {
	config := &configuration.Configuration{}
	config.Log.Formatter = "xml"

	_, err := configureLogging(context.Background(), config)
	require.Error(t, err)
}

func TestLogLevelFallsBackToInfoOnInvalidLevel(t *testing.T) {
	require.Equal(t, "info", logLevel("not-a-level").String())
}

func TestLogLevelParsesValidLevel(t *testing.T) {
	require.Equal(t, "debug", logLevel("debug").String())
}

func TestPanicHandlerLogsAndRepanics(t *testing.T) {
	handler := panicHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	require.Panics(t, func() { handler.ServeHTTP(w, req) })
}

func TestAliveAnswersConfiguredPathOnly(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := alive("/healthz", inner)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	otherReq := httptest.NewRequest(http.MethodGet, "/other", nil)
	otherW := httptest.NewRecorder()
	handler.ServeHTTP(otherW, otherReq)
	require.Equal(t, http.StatusTeapot, otherW.Code)
}

func TestConfigureLoggingWithFields(t *testing.T) {
	config := &configuration.Configuration{}
	config.Log.Fields = map[string]interface{}{"instance": "test"}

	ctx, err := configureLogging(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, ctx)
}

func TestResolveConfigurationEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	yaml := "version: 0.1\nstorage:\n  filesystem:\n    rootdirectory: " + dir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("REGISTRY_CONFIGURATION_PATH", path)

	config, err := resolveConfiguration(nil)
	require.NoError(t, err)
	require.Equal(t, "filesystem", config.Storage.Type())
}
