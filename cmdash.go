package cmdash

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/cmdash/internal/config"
	"github.com/loykin/cmdash/internal/dashboard"
	"github.com/loykin/cmdash/internal/diag"
	"github.com/loykin/cmdash/internal/execer"
	"github.com/loykin/cmdash/internal/history"
	"github.com/loykin/cmdash/internal/history/factory"
	"github.com/loykin/cmdash/internal/logger"
	"github.com/loykin/cmdash/internal/metrics"
	"github.com/loykin/cmdash/internal/scheduler"
	iapi "github.com/loykin/cmdash/internal/server"
	"github.com/loykin/cmdash/internal/state"
	"github.com/loykin/cmdash/internal/watcher"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type DashboardConfig = cfg.Dashboard

type Snapshot = state.Snapshot

type ModuleState = state.ModuleState

type TaskInfo = scheduler.TaskInfo

type Runner = execer.Runner

type Diagnostics = diag.Source

type HistorySink = history.Sink

type Settings = dashboard.Settings

type Options = dashboard.Options

// Controller is a thin facade over internal/dashboard.Controller.
// It provides a stable public API for embedding.

type Controller struct{ inner *dashboard.Controller }

// New builds a controller for one dashboard. A nil Exec in opts gets the
// default subprocess runner.
func New(dc DashboardConfig, opts Options) *Controller {
	if opts.Exec == nil {
		opts.Exec = &execer.Exec{}
	}
	return &Controller{inner: dashboard.New(dc, opts)}
}

func (c *Controller) Name() string                   { return c.inner.Name() }
func (c *Controller) Snapshot() Snapshot             { return c.inner.Snapshot() }
func (c *Controller) Refresh(ctx context.Context)    { c.inner.Refresh(ctx) }
func (c *Controller) RunAll()                        { c.inner.RunAll() }
func (c *Controller) RerunFailed()                   { c.inner.RerunFailed() }
func (c *Controller) StopAll()                       { c.inner.StopAll() }
func (c *Controller) ClearAllTasks()                 { c.inner.ClearAllTasks() }
func (c *Controller) RunTarget(moduleID, t string)   { c.inner.RunTarget(moduleID, t) }
func (c *Controller) RunTargetForModule(id string)   { c.inner.RunTargetForModule(id) }
func (c *Controller) RunTargetForAllModules(t string) { c.inner.RunTargetForAllModules(t) }
func (c *Controller) ConfigureAllModules(ctx context.Context) {
	c.inner.ConfigureAllModules(ctx)
}
func (c *Controller) ConfigureModule(ctx context.Context, id string) {
	c.inner.ConfigureModule(ctx, id)
}
func (c *Controller) ReconfigureModule(ctx context.Context, id string) {
	c.inner.ReconfigureModule(ctx, id)
}
func (c *Controller) ApplySettings(ctx context.Context, s Settings) {
	c.inner.ApplySettings(ctx, s)
}
func (c *Controller) StartSchedule(spec string) error { return c.inner.StartSchedule(spec) }
func (c *Controller) Close()                          { c.inner.Close() }

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

type LogConfig = logger.Config

type Watcher = watcher.Watcher

// NewLogger builds a slog logger with colored console output and optional
// lumberjack-rotated file output.
func NewLogger(lc LogConfig) *slog.Logger { return logger.New(lc) }

// NewWatcher watches module roots and debounces filesystem changes into the
// onChange callback.
func NewWatcher(log *slog.Logger, roots []string, onChange func()) (*Watcher, error) {
	return watcher.New(log, roots, onChange)
}

// NewHistorySink builds a history sink from a DSN (sqlite path,
// postgres:// or clickhouse:// URL).
func NewHistorySink(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// NewHTTPServer starts an HTTP server exposing the dashboard API for the
// given controllers.
func NewHTTPServer(addr, basePath string, controllers []*Controller) (*http.Server, error) {
	inner := make([]*dashboard.Controller, len(controllers))
	for i, c := range controllers {
		inner[i] = c.inner
	}
	return iapi.NewServer(addr, basePath, inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it runs
// the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
