// Package registry assembles the cobra-based `registry` binary: a
// NewRegistry/ListenAndServe pair that wires configuration to an
// handlers.App and serves it, plus the ServeCmd and GCCmd subcommands.
package registry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dockermetrics "github.com/docker/go-metrics"
	gorhandlers "github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ocireg/registry/configuration"
	"github.com/ocireg/registry/health"
	"github.com/ocireg/registry/internal/dcontext"
	_ "github.com/ocireg/registry/metrics"
	"github.com/ocireg/registry/registry/handlers"
)

const defaultLogFormatter = "text"

// ServeCmd is the cobra command that runs the registry's HTTP server.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` stores and distributes OCI images",
	Long:  "`serve` stores and distributes OCI images.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := dcontext.Background()

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			cmd.Usage()
			os.Exit(1)
		}

		registry, err := NewRegistry(ctx, config)
		if err != nil {
			logrus.Fatalln(err)
		}

		configureDebugServer(config)

		if err := registry.ListenAndServe(); err != nil {
			logrus.Fatalln(err)
		}
	},
}

// Registry represents a complete, running instance of the registry.
type Registry struct {
	config *configuration.Configuration
	app    *handlers.App
	server *http.Server
	quit   chan os.Signal
}

// NewRegistry wires an handlers.App, its health checks, and logging/panic
// middleware into a Registry ready for ListenAndServe.
func NewRegistry(ctx context.Context, config *configuration.Configuration) (*Registry, error) {
	ctx, err := configureLogging(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %v", err)
	}

	app := handlers.NewApp(ctx, *config)
	// The health registry is a package-level singleton, so RegisterHealthChecks
	// can only be called once per process.
	app.RegisterHealthChecks()

	var h http.Handler = app
	h = alive("/", h)
	h = health.Handler(h)
	h = panicHandler(h)
	if !config.Log.AccessLog.Disabled {
		h = gorhandlers.CombinedLoggingHandler(os.Stdout, h)
	}

	server := &http.Server{
		Handler: h,
	}

	return &Registry{
		app:    app,
		config: config,
		server: server,
		quit:   make(chan os.Signal, 1),
	}, nil
}

// ListenAndServe binds the configured address and serves. When
// config.HTTP.DrainTimeout is non-zero it returns on SIGTERM/SIGINT after
// draining in-flight connections for up to that long; when it is zero no
// signal handling is installed and it serves until the server stops.
func (registry *Registry) ListenAndServe() error {
	config := registry.config

	network := config.HTTP.Net
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, config.HTTP.Addr)
	if err != nil {
		return err
	}

	if config.HTTP.TLS.Certificate != "" {
		tlsConf := &tls.Config{
			ClientAuth: tls.NoClientCert,
		}

		tlsConf.Certificates = make([]tls.Certificate, 1)
		tlsConf.Certificates[0], err = tls.LoadX509KeyPair(config.HTTP.TLS.Certificate, config.HTTP.TLS.Key)
		if err != nil {
			return err
		}

		if len(config.HTTP.TLS.ClientCAs) != 0 {
			pool := x509.NewCertPool()
			for _, ca := range config.HTTP.TLS.ClientCAs {
				caPem, err := os.ReadFile(ca)
				if err != nil {
					return err
				}
				if ok := pool.AppendCertsFromPEM(caPem); !ok {
					return fmt.Errorf("could not add CA to pool")
				}
			}
			tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
			tlsConf.ClientCAs = pool
		}

		ln = tls.NewListener(ln, tlsConf)
		dcontext.GetLogger(registry.app).Infof("listening on %v, tls", ln.Addr())
	} else {
		dcontext.GetLogger(registry.app).Infof("listening on %v", ln.Addr())
	}

	if config.HTTP.DrainTimeout == 0 {
		return registry.server.Serve(ln)
	}

	signal.Notify(registry.quit, os.Interrupt, syscall.SIGTERM)
	serveErr := make(chan error, 1)

	go func() {
		serveErr <- registry.server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-registry.quit:
		dcontext.GetLogger(registry.app).Infof("stopping server gracefully, draining connections for %s", config.HTTP.DrainTimeout)
		c, cancel := context.WithTimeout(context.Background(), config.HTTP.DrainTimeout)
		defer cancel()
		return registry.Shutdown(c)
	}
}

// Shutdown gracefully shuts down the HTTP server and releases the App's
// storage driver.
func (registry *Registry) Shutdown(ctx context.Context) error {
	err := registry.server.Shutdown(ctx)
	if appErr := registry.app.Shutdown(); appErr != nil {
		err = errors.Join(err, appErr)
	}
	return err
}

func configureDebugServer(config *configuration.Configuration) {
	if config.HTTP.Debug.Addr == "" {
		return
	}
	if config.HTTP.Debug.Prometheus.Enabled {
		path := config.HTTP.Debug.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		logrus.Info("providing prometheus metrics on ", path)
		http.Handle(path, dockermetrics.Handler())
	}
	go func(addr string) {
		logrus.Infof("debug server listening %v", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			logrus.Fatalf("error listening on debug interface: %v", err)
		}
	}(config.HTTP.Debug.Addr)
}

// configureLogging prepares the context with a logger built from config,
// and sets logrus's global level/formatter to match.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	logrus.SetLevel(logLevel(config.Log.Level))
	logrus.SetReportCaller(config.Log.ReportCaller)

	formatter := config.Log.Formatter
	if formatter == "" {
		formatter = defaultLogFormatter
	}

	switch formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:   time.RFC3339Nano,
			DisableHTMLEscape: true,
		})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", formatter)
	}

	logrus.Debugf("using %q logging formatter", formatter)

	if len(config.Log.Fields) > 0 {
		fields := make(map[any]any, len(config.Log.Fields))
		keys := make([]any, 0, len(config.Log.Fields))
		for k, v := range config.Log.Fields {
			fields[k] = v
			keys = append(keys, k)
		}
		ctx = dcontext.WithLogger(ctx, dcontext.GetLoggerWithFields(ctx, fields, keys...))
	}

	dcontext.SetDefaultLogger(dcontext.GetLogger(ctx))
	return ctx, nil
}

func logLevel(level configuration.Loglevel) logrus.Level {
	l, err := logrus.ParseLevel(string(level))
	if err != nil {
		l = logrus.InfoLevel
		logrus.Warnf("error parsing level %q: %v, using %q", level, err, l)
	}
	return l
}

// panicHandler recovers a panicking handler and reports the panic value
// through logrus.Panic, which logs it and then panics again, so the panic
// still propagates to the caller.
func panicHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logrus.Panic(fmt.Sprintf("%v", err))
			}
		}()
		handler.ServeHTTP(w, r)
	})
}

// alive answers path unconditionally with 200, regardless of what's
// downstream — a liveness probe that only proves the process is up.
func alive(path string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == path {
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if env := os.Getenv("REGISTRY_CONFIGURATION_PATH"); env != "" {
		configurationPath = env
	}

	if configurationPath == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %v", configurationPath, err)
	}

	return config, nil
}
