// Package health implements the registry's liveness/readiness surface: a
// registry of named Checkers and the /debug/health endpoint that reports
// them.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ocireg/registry/internal/dcontext"
	"github.com/ocireg/registry/registry/api/errcode"
)

func init() {
	DefaultRegistry = NewRegistry()
	http.HandleFunc("/debug/health", StatusHandler)
}

// Registry is a collection of checks. Most applications use the global
// registry in DefaultRegistry; tests may want their own to isolate
// themselves from other tests' checks.
type Registry struct {
	mu               sync.RWMutex
	registeredChecks map[string]Checker
}

// NewRegistry creates a new, empty Registry.
func NewRegistry() *Registry {
	return &Registry{registeredChecks: make(map[string]Checker)}
}

// DefaultRegistry is the registry the /debug/health handler reports.
var DefaultRegistry *Registry

// Checker reports whether the thing it checks is currently healthy.
type Checker interface {
	Check(context.Context) error
}

// CheckFunc lets a plain func(context.Context) error satisfy Checker.
type CheckFunc func(context.Context) error

func (cf CheckFunc) Check(ctx context.Context) error {
	return cf(ctx)
}

// Updater is a Checker whose status is set asynchronously rather than
// computed on every Check call, for checks too expensive to run inline with
// every health probe (e.g. a storage driver write-read round trip).
type Updater interface {
	Checker
	Update(status error)
}

type updater struct {
	mu     sync.Mutex
	status error
}

func (u *updater) Check(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *updater) Update(status error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
}

// NewStatusUpdater returns an Updater reporting whatever status was last
// set via Update.
func NewStatusUpdater() Updater {
	return &updater{}
}

// thresholdUpdater only reports unhealthy once a consecutive run of failed
// updates reaches threshold, absorbing transient blips from a periodic
// Poll loop.
type thresholdUpdater struct {
	mu        sync.Mutex
	status    error
	threshold int
	count     int
}

func (tu *thresholdUpdater) Check(context.Context) error {
	tu.mu.Lock()
	defer tu.mu.Unlock()

	if tu.count >= tu.threshold || errors.As(tu.status, new(pollingTerminatedErr)) {
		return tu.status
	}
	return nil
}

func (tu *thresholdUpdater) Update(status error) {
	tu.mu.Lock()
	defer tu.mu.Unlock()

	if status == nil {
		tu.count = 0
	} else if tu.count < tu.threshold {
		tu.count++
	}
	tu.status = status
}

// NewThresholdStatusUpdater returns an Updater that only reports unhealthy
// after t consecutive failed updates.
func NewThresholdStatusUpdater(t int) Updater {
	if t > 0 {
		return &thresholdUpdater{threshold: t}
	}
	return NewStatusUpdater()
}

type pollingTerminatedErr struct{ Err error }

func (e pollingTerminatedErr) Error() string {
	return fmt.Sprintf("health: check is not polled: %v", e.Err)
}

func (e pollingTerminatedErr) Unwrap() error { return e.Err }

// Poll periodically runs c at interval and records the result into u, until
// ctx is done.
func Poll(ctx context.Context, u Updater, c Checker, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			u.Update(pollingTerminatedErr{Err: ctx.Err()})
			return
		case <-t.C:
			u.Update(c.Check(ctx))
		}
	}
}

// CheckStatus runs every registered check and returns the error message of
// each one that failed, keyed by check name.
func (registry *Registry) CheckStatus(ctx context.Context) map[string]string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	statusKeys := make(map[string]string)
	for k, v := range registry.registeredChecks {
		if err := v.Check(ctx); err != nil {
			statusKeys[k] = err.Error()
		}
	}
	return statusKeys
}

// CheckStatus runs every check in DefaultRegistry.
func CheckStatus(ctx context.Context) map[string]string {
	return DefaultRegistry.CheckStatus(ctx)
}

// Register adds check under name. Panics on a duplicate name, since that
// means two subsystems raced to claim the same health check identity.
func (registry *Registry) Register(name string, check Checker) {
	if registry == nil {
		registry = DefaultRegistry
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, ok := registry.registeredChecks[name]; ok {
		panic("health: check already registered: " + name)
	}
	registry.registeredChecks[name] = check
}

// Register adds check under name in DefaultRegistry.
func Register(name string, check Checker) {
	DefaultRegistry.Register(name, check)
}

// RegisterFunc registers a CheckFunc under name.
func (registry *Registry) RegisterFunc(name string, check CheckFunc) {
	registry.Register(name, check)
}

// RegisterFunc registers a CheckFunc under name in DefaultRegistry.
func RegisterFunc(name string, check CheckFunc) {
	DefaultRegistry.RegisterFunc(name, check)
}

// StatusHandler serves the current health status as JSON: 200 if every
// check passes, 503 and the failing checks' messages otherwise.
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	checks := CheckStatus(r.Context())
	status := http.StatusOK
	if len(checks) != 0 {
		status = http.StatusServiceUnavailable
	}
	statusResponse(w, r, status, checks)
}

// Handler wraps handler, short-circuiting with a 503 OCI error envelope
// when any registered check is currently failing.
func Handler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks := CheckStatus(r.Context())
		if len(checks) != 0 {
			_ = errcode.ServeJSON(w, errcode.ErrorCodeUnavailable.WithDetail("health check failed: please see /debug/health"))
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func statusResponse(w http.ResponseWriter, r *http.Request, status int, checks map[string]string) {
	p, err := json.Marshal(checks)
	if err != nil {
		dcontext.GetLogger(r.Context()).Errorf("error serializing health status: %v", err)
		p, err = json.Marshal(struct {
			ServerError string `json:"server_error"`
		}{ServerError: "Could not parse error message"})
		status = http.StatusInternalServerError
		if err != nil {
			dcontext.GetLogger(r.Context()).Errorf("error serializing health status failure message: %v", err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", fmt.Sprint(len(p)))
	w.WriteHeader(status)
	if _, err := w.Write(p); err != nil {
		dcontext.GetLogger(r.Context()).Errorf("error writing health status response body: %v", err)
	}
}
