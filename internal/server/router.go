package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/cmdash/internal/dashboard"
	"github.com/loykin/cmdash/internal/metrics"
)

// Router provides embeddable HTTP handlers for the dashboard command set.
// Endpoints (all under basePath):
//   GET  /snapshot                      query: dashboard=... (optional with one dashboard)
//   GET  /tasks                         live supervised tasks
//   GET  /reveal                        query: module=...&target=...
//   GET  /reveal-configure              query: module=...
//   POST /refresh
//   POST /run-all
//   POST /rerun-failed
//   POST /stop-all
//   POST /clear-all-tasks
//   POST /run-target                    query: module=...&target=...
//   POST /run-target-for-module        query: module=...
//   POST /run-target-for-all-modules   query: target=...
//   POST /configure-module             query: module=...
//   POST /reconfigure-module           query: module=...
//   POST /configure-all-modules
//   GET  /metrics
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	controllers map[string]*dashboard.Controller
	order       []string
	basePath    string
}

// NewRouter constructs a Router over a set of dashboard controllers.
func NewRouter(controllers []*dashboard.Controller, basePath string) *Router {
	r := &Router{
		controllers: make(map[string]*dashboard.Controller, len(controllers)),
		basePath:    sanitizeBase(basePath),
	}
	for _, c := range controllers {
		r.controllers[c.Name()] = c
		r.order = append(r.order, c.Name())
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/snapshot", r.handleSnapshot)
	group.GET("/tasks", r.handleTasks)
	group.GET("/reveal", r.handleReveal)
	group.GET("/reveal-configure", r.handleRevealConfigure)
	group.POST("/refresh", r.background(func(c *dashboard.Controller, _ *gin.Context) {
		c.Refresh(context.Background())
	}))
	group.POST("/run-all", r.command(func(c *dashboard.Controller, _ *gin.Context) bool {
		c.RunAll()
		return true
	}))
	group.POST("/rerun-failed", r.command(func(c *dashboard.Controller, _ *gin.Context) bool {
		c.RerunFailed()
		return true
	}))
	group.POST("/stop-all", r.command(func(c *dashboard.Controller, _ *gin.Context) bool {
		c.StopAll()
		return true
	}))
	group.POST("/clear-all-tasks", r.command(func(c *dashboard.Controller, _ *gin.Context) bool {
		c.ClearAllTasks()
		return true
	}))
	group.POST("/run-target", r.command(func(c *dashboard.Controller, gc *gin.Context) bool {
		module, target := gc.Query("module"), gc.Query("target")
		if module == "" || target == "" {
			writeJSON(gc, http.StatusBadRequest, errorResp{Error: "module and target query params required"})
			return false
		}
		c.RunTarget(module, target)
		return true
	}))
	group.POST("/run-target-for-module", r.command(func(c *dashboard.Controller, gc *gin.Context) bool {
		module := gc.Query("module")
		if module == "" {
			writeJSON(gc, http.StatusBadRequest, errorResp{Error: "module query param required"})
			return false
		}
		c.RunTargetForModule(module)
		return true
	}))
	group.POST("/run-target-for-all-modules", r.command(func(c *dashboard.Controller, gc *gin.Context) bool {
		target := gc.Query("target")
		if target == "" {
			writeJSON(gc, http.StatusBadRequest, errorResp{Error: "target query param required"})
			return false
		}
		c.RunTargetForAllModules(target)
		return true
	}))
	group.POST("/configure-module", r.backgroundModule(func(c *dashboard.Controller, module string) {
		c.ConfigureModule(context.Background(), module)
	}))
	group.POST("/reconfigure-module", r.backgroundModule(func(c *dashboard.Controller, module string) {
		c.ReconfigureModule(context.Background(), module)
	}))
	group.POST("/configure-all-modules", r.background(func(c *dashboard.Controller, _ *gin.Context) {
		c.ConfigureAllModules(context.Background())
	}))
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. Call
// Close or Shutdown on the returned server to stop it.
func NewServer(addr, basePath string, controllers []*dashboard.Controller) (*http.Server, error) {
	r := NewRouter(controllers, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// controller resolves the addressed dashboard. With a single configured
// dashboard the query param may be omitted.
func (r *Router) controller(c *gin.Context) (*dashboard.Controller, bool) {
	name := c.Query("dashboard")
	if name == "" {
		if len(r.order) == 1 {
			return r.controllers[r.order[0]], true
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "dashboard query param required"})
		return nil, false
	}
	ctrl, ok := r.controllers[name]
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown dashboard: " + name})
		return nil, false
	}
	return ctrl, true
}

// command wraps a synchronous controller operation. The op reports whether it
// ran; a false return means it already wrote an error response.
func (r *Router) command(op func(*dashboard.Controller, *gin.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl, ok := r.controller(c)
		if !ok {
			return
		}
		if op(ctrl, c) {
			writeJSON(c, http.StatusOK, okResp{OK: true})
		}
	}
}

// background wraps a long-running operation (configure, refresh) that should
// not hold the HTTP request open. Progress arrives via snapshot polling.
func (r *Router) background(op func(*dashboard.Controller, *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl, ok := r.controller(c)
		if !ok {
			return
		}
		go op(ctrl, c)
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
	}
}

func (r *Router) backgroundModule(op func(*dashboard.Controller, string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl, ok := r.controller(c)
		if !ok {
			return
		}
		module := c.Query("module")
		if module == "" {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "module query param required"})
			return
		}
		go op(ctrl, module)
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
	}
}

func (r *Router) handleSnapshot(c *gin.Context) {
	ctrl, ok := r.controller(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, ctrl.Snapshot())
}

func (r *Router) handleTasks(c *gin.Context) {
	ctrl, ok := r.controller(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, ctrl.Registry().List())
}

func (r *Router) handleReveal(c *gin.Context) {
	ctrl, ok := r.controller(c)
	if !ok {
		return
	}
	module, target := c.Query("module"), c.Query("target")
	if module == "" || target == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "module and target query params required"})
		return
	}
	info, found := ctrl.Registry().Find(module, target)
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no live task for module/target"})
		return
	}
	writeJSON(c, http.StatusOK, info)
}

type revealConfigureResp struct {
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

func (r *Router) handleRevealConfigure(c *gin.Context) {
	ctrl, ok := r.controller(c)
	if !ok {
		return
	}
	module := c.Query("module")
	if module == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "module query param required"})
		return
	}
	startedAt, running := ctrl.ConfigureRunning(module)
	writeJSON(c, http.StatusOK, revealConfigureResp{Running: running, StartedAt: startedAt})
}
