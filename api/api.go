package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/session"
	"github.com/jmcleod/sessionguard/storage"
)

// Executor runs functions on the session's event loop.
type Executor interface {
	eventloop.Scheduler
	Do(ctx context.Context, f func()) error
}

// API exposes one session guard instance over HTTP.
//
// The machine and login watcher are owned by the event loop. Handlers reach
// them only through Executor.Do.
type API struct {
	loop        Executor
	store       storage.Store
	cfg         session.Config
	sessionOpts []session.Option
	autoLogin   bool
	logger      *slog.Logger
	audit       *auditLogger
	metrics     *metricsCollector

	// Loop-confined.
	machine *session.Machine
	watcher *session.LoginWatcher
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and errors.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAutoLogin starts a session by itself whenever the credential key
// appears while no session is running.
func WithAutoLogin(enabled bool) Option {
	return func(a *API) {
		a.autoLogin = enabled
	}
}

// WithSessionOptions passes options to every machine the API creates.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *API) {
		a.sessionOpts = append(a.sessionOpts, opts...)
	}
}

// WithAlertFunc sets the callback for logout spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.metrics.alertFn = fn
	}
}

// New creates a new API instance.
func New(loop Executor, store storage.Store, cfg session.Config, opts ...Option) *API {
	a := &API{
		loop:    loop,
		store:   store,
		cfg:     cfg,
		metrics: newMetricsCollector(nil),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	a.audit.metrics = a.metrics
	a.logger = a.logger.With("component", "api")
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/metrics", a.Metrics)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", a.GetSession)
		r.Post("/", a.StartSession)
		r.Post("/activity", a.Activity)
		r.Post("/continue", a.Continue)
		r.Post("/logout", a.Logout)
		r.Post("/visibility", a.Visibility)
	})

	return r
}

// Health answers liveness probes.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Start arms the login watcher when auto-login is enabled.
func (a *API) Start(ctx context.Context) error {
	if !a.autoLogin {
		return nil
	}
	return a.exec(ctx, a.watchForLogin)
}

// Close stops the running session or login watcher without logging out.
func (a *API) Close(ctx context.Context) error {
	return a.exec(ctx, func() error {
		if a.machine != nil {
			a.machine.Stop()
		}
		a.stopWatcher()
		return nil
	})
}

// exec runs f on the loop and returns its error.
func (a *API) exec(ctx context.Context, f func() error) error {
	_, err := call(ctx, a.loop, func() (struct{}, error) {
		return struct{}{}, f()
	})
	return err
}

type result[T any] struct {
	val T
	err error
}

// call runs f on the loop and returns its result. When ctx ends first, f may
// still run later; its result then lands in the buffered channel and is
// dropped.
func call[T any](ctx context.Context, loop Executor, f func() (T, error)) (T, error) {
	out := make(chan result[T], 1)
	if err := loop.Do(ctx, func() {
		v, err := f()
		out <- result[T]{val: v, err: err}
	}); err != nil {
		var zero T
		return zero, err
	}
	r := <-out
	return r.val, r.err
}
