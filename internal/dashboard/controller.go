package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/cmdash/internal/config"
	"github.com/loykin/cmdash/internal/configure"
	"github.com/loykin/cmdash/internal/diag"
	"github.com/loykin/cmdash/internal/discovery"
	"github.com/loykin/cmdash/internal/execer"
	"github.com/loykin/cmdash/internal/history"
	"github.com/loykin/cmdash/internal/metrics"
	"github.com/loykin/cmdash/internal/scheduler"
	"github.com/loykin/cmdash/internal/state"
	"github.com/loykin/cmdash/internal/target"
)

// Settings are the knobs the controller re-applies at runtime.
type Settings struct {
	BuildSystem config.BuildSystem
	Jobs        config.Jobs
	MaxParallel int
}

// Options wires the controller's collaborators. Exec is required; everything
// else has a working default.
type Options struct {
	WorkspaceRoot string
	Exec          execer.Runner
	Diag          diag.Source
	Publish       func(state.Snapshot)
	Sink          history.Sink
	Log           *slog.Logger
	Settings      Settings
}

// Controller orchestrates one dashboard: discovery, configure, target
// detection, run scheduling and snapshot publishing. Dashboards are fully
// independent; each controller owns its own store and scheduler.
type Controller struct {
	cfg       config.Dashboard
	workspace string
	excluded  map[string]struct{}
	store     *state.Store
	sched     *scheduler.Scheduler
	conf      *configure.Runner
	det       *target.Detector
	log       *slog.Logger
	publish   func(state.Snapshot)
	sink      history.Sink

	settingsMu sync.RWMutex
	settings   Settings

	mu         sync.Mutex
	queues     map[string][]string // per-module FIFO of targets still to enqueue
	configures map[string]*configureTask
	cron       *cron.Cron
}

type configureTask struct {
	cancel    context.CancelFunc
	startedAt time.Time
}

// New builds a controller for one dashboard.
func New(cfg config.Dashboard, opts Options) *Controller {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("dashboard", cfg.Name)
	if opts.Publish == nil {
		opts.Publish = func(state.Snapshot) {}
	}
	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = "."
	}
	if opts.Settings.BuildSystem == "" {
		opts.Settings.BuildSystem = config.BuildSystemAuto
	}
	if opts.Settings.MaxParallel < 1 {
		opts.Settings.MaxParallel = 2
	}
	excluded := make(map[string]struct{}, len(cfg.ExcludedModules))
	for _, name := range cfg.ExcludedModules {
		excluded[name] = struct{}{}
	}
	c := &Controller{
		cfg:        cfg,
		workspace:  opts.WorkspaceRoot,
		excluded:   excluded,
		store:      state.NewStore(),
		conf:       configure.New(opts.Exec, log),
		det:        target.New(opts.Exec, log),
		log:        log,
		publish:    opts.Publish,
		sink:       opts.Sink,
		settings:   opts.Settings,
		queues:     make(map[string][]string),
		configures: make(map[string]*configureTask),
	}
	c.sched = scheduler.New(cfg.Name, opts.Exec, opts.Diag, c.onUpdate, log)
	c.sched.SetMaxParallel(opts.Settings.MaxParallel)
	c.store.SetTargets(cfg.Targets)
	return c
}

// Name returns the dashboard name.
func (c *Controller) Name() string { return c.cfg.Name }

// Snapshot returns the current serializable dashboard state.
func (c *Controller) Snapshot() state.Snapshot { return c.store.Snapshot() }

// Registry exposes the scheduler's task registry for reveal operations.
func (c *Controller) Registry() *scheduler.Registry { return c.sched.Registry() }

// ConfigureRunning reports whether a configure is in flight for the module
// and when it started.
func (c *Controller) ConfigureRunning(moduleID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct := c.configures[moduleID]
	if ct == nil {
		return time.Time{}, false
	}
	return ct.startedAt, true
}

// Refresh re-runs discovery for every configured root, resets state and then
// refreshes each module sequentially. A snapshot is published after discovery
// and after each module so progress is visible incrementally.
func (c *Controller) Refresh(ctx context.Context) {
	metrics.IncRefresh(c.cfg.Name)
	var modules []discovery.Module
	for _, root := range c.cfg.Roots {
		modules = append(modules, discovery.Discover(c.log, c.workspace, root, c.excluded)...)
	}
	c.store.SetTargets(c.cfg.Targets)
	c.store.SetModules(modules)
	metrics.SetModules(c.cfg.Name, len(modules))
	c.log.Info("dashboard refreshed", "modules", len(modules))
	c.publish(c.store.Snapshot())

	for _, m := range modules {
		if ctx.Err() != nil {
			return
		}
		if !configure.HasCache(m.Path) {
			c.store.UpdateConfigure(m.ID, state.ConfigurePatch{NeedsConfigure: boolPtr(true)})
		} else {
			c.refreshModule(ctx, m)
		}
		c.publish(c.store.Snapshot())
	}
}

// refreshModule runs configure-and-detect for one module. The configure step
// is a no-op when the cache already exists.
func (c *Controller) refreshModule(ctx context.Context, m discovery.Module) {
	started := time.Now()
	res, err := c.conf.Ensure(ctx, m.Path, c.buildSystem())
	if err != nil {
		c.log.Warn("configure failed", "module", m.Name, "error", err)
		c.store.UpdateConfigure(m.ID, state.ConfigurePatch{
			Status:         configureStatusPtr(state.ConfigureFailed),
			Output:         strPtr(fmt.Sprintf("%s\n%v", res.Output, err)),
			UpdatedAt:      timePtr(time.Now()),
			NeedsConfigure: boolPtr(true),
		})
		metrics.IncConfigure(c.cfg.Name, string(state.ConfigureFailed))
		c.sendHistory(history.KindConfigure, m, "", string(state.ConfigureFailed), nil, time.Since(started))
		return
	}
	patch := state.ConfigurePatch{
		Generator:      strPtr(res.Generator.String()),
		NeedsConfigure: boolPtr(false),
	}
	if res.Configured {
		patch.Status = configureStatusPtr(state.ConfigureSuccess)
		patch.Output = strPtr(res.Output)
		patch.UpdatedAt = timePtr(time.Now())
		metrics.IncConfigure(c.cfg.Name, string(state.ConfigureSuccess))
		c.sendHistory(history.KindConfigure, m, "", string(state.ConfigureSuccess), nil, time.Since(started))
	}
	c.store.UpdateConfigure(m.ID, patch)

	detected := c.det.Detect(ctx, m.Path, res.Generator)
	availability := make(map[string]bool, len(c.cfg.Targets))
	for _, t := range c.cfg.Targets {
		_, ok := detected[t]
		availability[t] = ok
	}
	c.store.SetAvailability(m.ID, availability)
}

// RunAll enqueues every available target of every module, one FIFO queue per
// module so a module's targets run strictly in dashboard order. The global
// cap still bounds how many pairs run at once across modules.
func (c *Controller) RunAll() {
	keys := c.store.AllAvailable()
	perModule := make(map[string][]string)
	var order []string
	for _, k := range keys {
		if _, seen := perModule[k.ModuleID]; !seen {
			order = append(order, k.ModuleID)
		}
		perModule[k.ModuleID] = append(perModule[k.ModuleID], k.Target)
	}
	for _, id := range order {
		c.startModuleQueue(id, perModule[id], scheduler.ModeSilent)
	}
	c.publish(c.store.Snapshot())
}

// RunTargetForModule runs all available targets of one module sequentially.
// Every queued target is shown as running immediately for instant feedback,
// even though only the cap-permitted subset truly executes.
func (c *Controller) RunTargetForModule(moduleID string) {
	targets := c.store.AvailableFor(moduleID)
	if len(targets) == 0 {
		return
	}
	for _, t := range targets {
		c.store.UpdateRun(moduleID, t, state.RunPatch{Status: runStatusPtr(state.RunRunning)})
	}
	c.startModuleQueue(moduleID, targets, scheduler.ModeSilent)
	c.publish(c.store.Snapshot())
}

// RunTargetForAllModules fans one target out to every module that has it.
// Single-target requests need no per-module sequencing.
func (c *Controller) RunTargetForAllModules(targetName string) {
	snap := c.store.Snapshot()
	for _, ms := range snap.Modules {
		if !ms.Availability[targetName] {
			continue
		}
		c.enqueue(ms.Module, targetName, scheduler.ModeSilent)
	}
	c.publish(c.store.Snapshot())
}

// RunTarget runs one target for one module, terminal-attached.
func (c *Controller) RunTarget(moduleID, targetName string) {
	ms, ok := c.store.Module(moduleID)
	if !ok {
		return
	}
	c.enqueue(ms.Module, targetName, scheduler.ModeTerminal)
}

// RerunFailed re-enqueues every currently failed (module, target) pair via
// the normal duplicate-safe enqueue path.
func (c *Controller) RerunFailed() {
	for _, k := range c.store.FailedTargets() {
		ms, ok := c.store.Module(k.ModuleID)
		if !ok {
			continue
		}
		c.enqueue(ms.Module, k.Target, scheduler.ModeSilent)
	}
	c.publish(c.store.Snapshot())
}

// ConfigureAllModules runs configure-and-detect for every module, skipping
// the configure step where a cache already exists.
func (c *Controller) ConfigureAllModules(ctx context.Context) {
	snap := c.store.Snapshot()
	for _, ms := range snap.Modules {
		c.configureOne(ctx, ms.Module)
		c.publish(c.store.Snapshot())
	}
}

// ConfigureModule configures one module, idempotent when a cache exists.
func (c *Controller) ConfigureModule(ctx context.Context, moduleID string) {
	ms, ok := c.store.Module(moduleID)
	if !ok {
		return
	}
	c.configureOne(ctx, ms.Module)
	c.publish(c.store.Snapshot())
}

// ReconfigureModule wipes the module's out dir and forces a fresh configure.
func (c *Controller) ReconfigureModule(ctx context.Context, moduleID string) {
	ms, ok := c.store.Module(moduleID)
	if !ok {
		return
	}
	if err := configure.Wipe(ms.Module.Path); err != nil {
		c.log.Warn("wipe failed", "module", ms.Module.Name, "error", err)
	}
	c.store.UpdateConfigure(moduleID, state.ConfigurePatch{NeedsConfigure: boolPtr(true)})
	c.configureOne(ctx, ms.Module)
	c.publish(c.store.Snapshot())
}

// configureOne runs a tracked configure-and-detect. The tracking entry lets
// ClearAllTasks cancel configures that are still in flight.
func (c *Controller) configureOne(ctx context.Context, m discovery.Module) {
	prev, ok := c.store.Module(m.ID)
	if !ok {
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.configures[m.ID] = &configureTask{cancel: cancel, startedAt: time.Now()}
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.configures, m.ID)
		c.mu.Unlock()
	}()
	c.store.UpdateConfigure(m.ID, state.ConfigurePatch{Status: configureStatusPtr(state.ConfigureRunning)})
	c.publish(c.store.Snapshot())
	c.refreshModule(cctx, m)
	// When the cache already existed the configure step was skipped and
	// refreshModule wrote no status, so resolve running back to what the
	// module showed before.
	if ms, ok := c.store.Module(m.ID); ok && ms.Configure.Status == state.ConfigureRunning {
		restored := prev.Configure.Status
		if restored == state.ConfigureRunning {
			restored = state.ConfigureIdle
		}
		c.store.UpdateConfigure(m.ID, state.ConfigurePatch{Status: configureStatusPtr(restored)})
	}
}

// StopAll drops all queued work and terminates terminal-attached executions.
// Silent executions already in flight finish on their own.
func (c *Controller) StopAll() {
	c.mu.Lock()
	queues := c.queues
	c.queues = make(map[string][]string)
	c.mu.Unlock()
	for id, targets := range queues {
		for _, t := range targets {
			c.store.UpdateRun(id, t, state.RunPatch{Status: runStatusPtr(state.RunIdle)})
		}
	}
	c.sched.StopAll()
	c.publish(c.store.Snapshot())
}

// ClearAllTasks is a full reset of the execution surface: stop all runs,
// cancel in-flight configures and wipe the task registry.
func (c *Controller) ClearAllTasks() {
	c.StopAll()
	c.mu.Lock()
	configures := c.configures
	c.configures = make(map[string]*configureTask)
	c.mu.Unlock()
	for _, ct := range configures {
		ct.cancel()
	}
	c.sched.ClearTasks()
}

// ApplySettings re-applies the runtime knobs and re-runs refresh so detected
// generators and availability reflect the new preference.
func (c *Controller) ApplySettings(ctx context.Context, s Settings) {
	c.settingsMu.Lock()
	if s.BuildSystem != "" {
		c.settings.BuildSystem = s.BuildSystem
	}
	if s.Jobs != "" {
		c.settings.Jobs = s.Jobs
	}
	if s.MaxParallel > 0 {
		c.settings.MaxParallel = s.MaxParallel
	}
	max := c.settings.MaxParallel
	c.settingsMu.Unlock()
	c.sched.SetMaxParallel(max)
	c.Refresh(ctx)
}

// StartSchedule begins periodic refreshes on a cron expression. Empty spec
// disables scheduling.
func (c *Controller) StartSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	cr := cron.New()
	_, err := cr.AddFunc(spec, func() {
		c.log.Debug("scheduled refresh")
		c.Refresh(context.Background())
	})
	if err != nil {
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	c.mu.Lock()
	c.cron = cr
	c.mu.Unlock()
	cr.Start()
	return nil
}

// Close stops the refresh schedule and clears all execution state.
func (c *Controller) Close() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		cr.Stop()
	}
	c.ClearAllTasks()
}

// startModuleQueue records the module's FIFO and enqueues its head. The rest
// follows one at a time as completions arrive via onUpdate.
func (c *Controller) startModuleQueue(moduleID string, targets []string, mode scheduler.Mode) {
	if len(targets) == 0 {
		return
	}
	ms, ok := c.store.Module(moduleID)
	if !ok {
		return
	}
	c.mu.Lock()
	c.queues[moduleID] = targets[1:]
	c.mu.Unlock()
	c.enqueue(ms.Module, targets[0], mode)
}

func (c *Controller) enqueue(m discovery.Module, targetName string, mode scheduler.Mode) {
	c.sched.Enqueue(scheduler.Request{
		ModuleID: m.ID,
		Target:   targetName,
		Dir:      m.Path,
		Command:  c.buildCommand(targetName),
		Mode:     mode,
	})
}

// buildCommand produces the generator-agnostic build invocation for one
// target.
func (c *Controller) buildCommand(targetName string) []string {
	c.settingsMu.RLock()
	jobs := c.settings.Jobs.Count()
	c.settingsMu.RUnlock()
	return []string{"cmake", "--build", configure.OutDir, "--target", targetName, "--parallel", strconv.Itoa(jobs)}
}

func (c *Controller) buildSystem() config.BuildSystem {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.settings.BuildSystem
}

// onUpdate is the scheduler's sole progress channel. It folds transitions
// into the store, advances per-module queues on completion and republishes.
func (c *Controller) onUpdate(u scheduler.Update) {
	now := time.Now()
	patch := state.RunPatch{Status: runStatusPtr(u.Status), ExitCode: u.ExitCode}
	switch u.Status {
	case state.RunRunning:
		patch.StartedAt = timePtr(now)
	case state.RunSuccess, state.RunWarning, state.RunFailed:
		patch.FinishedAt = timePtr(now)
	}

	var took time.Duration
	if ms, ok := c.store.Module(u.ModuleID); ok {
		if prev, ok := ms.Runs[u.Target]; ok && !prev.StartedAt.IsZero() {
			took = now.Sub(prev.StartedAt)
		}
		if terminal(u.Status) {
			c.sendHistory(history.KindRun, ms.Module, u.Target, string(u.Status), u.ExitCode, took)
		}
	}
	c.store.UpdateRun(u.ModuleID, u.Target, patch)

	if terminal(u.Status) || u.Status == state.RunIdle {
		c.advanceQueue(u.ModuleID, u.Status)
	}
	c.publish(c.store.Snapshot())
}

// advanceQueue releases the next target of a module's FIFO after the current
// one reaches a terminal state. A stop wipes the queue map, so a stale idle
// transition finds nothing to advance.
func (c *Controller) advanceQueue(moduleID string, status state.RunStatus) {
	c.mu.Lock()
	q := c.queues[moduleID]
	if len(q) == 0 || status == state.RunIdle {
		delete(c.queues, moduleID)
		c.mu.Unlock()
		return
	}
	next := q[0]
	c.queues[moduleID] = q[1:]
	c.mu.Unlock()
	ms, ok := c.store.Module(moduleID)
	if !ok {
		return
	}
	c.enqueue(ms.Module, next, scheduler.ModeSilent)
}

func (c *Controller) sendHistory(kind history.Kind, m discovery.Module, targetName, status string, exitCode *int, took time.Duration) {
	if c.sink == nil {
		return
	}
	e := history.Event{
		Kind:       kind,
		Dashboard:  c.cfg.Name,
		ModuleID:   m.ID,
		ModuleName: m.Name,
		Target:     targetName,
		Status:     status,
		ExitCode:   exitCode,
		Duration:   took,
		OccurredAt: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sink.Send(ctx, e); err != nil {
		c.log.Warn("history send failed", "module", m.Name, "error", err)
	}
}

func terminal(s state.RunStatus) bool {
	return s == state.RunSuccess || s == state.RunWarning || s == state.RunFailed
}

func boolPtr(b bool) *bool                                      { return &b }
func strPtr(s string) *string                                   { return &s }
func timePtr(t time.Time) *time.Time                            { return &t }
func runStatusPtr(s state.RunStatus) *state.RunStatus           { return &s }
func configureStatusPtr(s state.ConfigureStatus) *state.ConfigureStatus { return &s }
