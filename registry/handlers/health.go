package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ocireg/registry/health"
	"github.com/ocireg/registry/registry/storage/cache"
	storagedriver "github.com/ocireg/registry/registry/storage/driver"
)

// RegisterHealthChecks wires every check configured under Config.Health
// (file, HTTP and TCP checkers, and the storage driver when
// Health.StorageDriver.Enabled is set), plus the cache connection when the
// descriptor cache provider implements cache.Pinger (Redis), into the
// health package's DefaultRegistry, the same registry the /debug/health
// endpoint reports from. Each check polls on its own interval via
// health.Poll. The configured checks update a threshold-smoothed Updater
// so a single slow probe doesn't flip the registry unhealthy; the cache
// check updates a plain Updater every 10 seconds.
func (app *App) RegisterHealthChecks() {
	for _, fc := range app.Config.Health.FileCheckers {
		interval := fc.Interval
		if interval == 0 {
			interval = 10 * time.Second
		}
		updater := health.NewThresholdStatusUpdater(fc.Threshold)
		go health.Poll(app, updater, fileChecker(fc.File), interval)
		health.Register(fmt.Sprintf("file-checker-%s", fc.File), updater)
	}

	for _, hc := range app.Config.Health.HTTPCheckers {
		interval := hc.Interval
		if interval == 0 {
			interval = 10 * time.Second
		}
		statusCode := hc.StatusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		updater := health.NewThresholdStatusUpdater(hc.Threshold)
		go health.Poll(app, updater, httpChecker(hc.URI, statusCode, hc.Timeout, hc.Headers), interval)
		health.Register(fmt.Sprintf("http-checker-%s", hc.URI), updater)
	}

	for _, tc := range app.Config.Health.TCPCheckers {
		interval := tc.Interval
		if interval == 0 {
			interval = 10 * time.Second
		}
		updater := health.NewThresholdStatusUpdater(tc.Threshold)
		go health.Poll(app, updater, tcpChecker(tc.Addr, tc.Timeout), interval)
		health.Register(fmt.Sprintf("tcp-checker-%s", tc.Addr), updater)
	}

	if app.Config.Health.StorageDriver.Enabled {
		interval := app.Config.Health.StorageDriver.Interval
		if interval == 0 {
			interval = 10 * time.Second
		}
		updater := health.NewThresholdStatusUpdater(app.Config.Health.StorageDriver.Threshold)
		go health.Poll(app, updater, storageDriverChecker(app.driver), interval)
		health.Register("storagedriver", updater)
	}

	if pinger, ok := app.cacheProvider.(cache.Pinger); ok {
		updater := health.NewStatusUpdater()
		go health.Poll(app, updater, cacheChecker(pinger), 10*time.Second)
		health.Register("cache", updater)
	}
}

func fileChecker(file string) health.Checker {
	return health.CheckFunc(func(context.Context) error {
		if _, err := os.Stat(file); err == nil {
			return fmt.Errorf("health: file %q exists", file)
		} else if !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

func httpChecker(uri string, statusCode int, timeout time.Duration, headers http.Header) health.Checker {
	return health.CheckFunc(func(ctx context.Context) error {
		client := http.Client{Timeout: timeout}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return err
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("error while checking %q: %w", uri, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != statusCode {
			return fmt.Errorf("unexpected status code checking %q: %d, expected %d", uri, resp.StatusCode, statusCode)
		}
		return nil
	})
}

func tcpChecker(addr string, timeout time.Duration) health.Checker {
	return health.CheckFunc(func(context.Context) error {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return fmt.Errorf("connection to %q failed: %w", addr, err)
		}
		return conn.Close()
	})
}

// storageDriverChecker verifies the storage backend is reachable by
// statting its root, the cheapest operation every driver implements.
func storageDriverChecker(driver storagedriver.StorageDriver) health.Checker {
	return health.CheckFunc(func(ctx context.Context) error {
		_, err := driver.Stat(ctx, "/")
		if err != nil {
			if _, ok := err.(storagedriver.PathNotFoundError); ok {
				return nil
			}
			return err
		}
		return nil
	})
}

// cacheChecker verifies a network-backed descriptor cache (Redis) is
// reachable.
func cacheChecker(pinger cache.Pinger) health.Checker {
	return health.CheckFunc(func(ctx context.Context) error {
		return pinger.Ping(ctx)
	})
}
