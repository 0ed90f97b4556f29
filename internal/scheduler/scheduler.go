package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/cmdash/internal/diag"
	"github.com/loykin/cmdash/internal/execer"
	"github.com/loykin/cmdash/internal/metrics"
	"github.com/loykin/cmdash/internal/state"
)

// Mode selects how a run request executes.
type Mode int

const (
	// ModeTerminal runs under a supervised task the user can be pointed at.
	ModeTerminal Mode = iota
	// ModeSilent captures output directly; escalates to ModeTerminal when
	// the run does not classify as success.
	ModeSilent
)

// Request asks for one target to run for one module.
type Request struct {
	ModuleID string
	Target   string
	Dir      string   // module path, cwd for the build tool
	Command  []string // command and args
	Mode     Mode
}

func (r Request) key() state.Key { return state.Key{ModuleID: r.ModuleID, Target: r.Target} }

// Update is emitted on every state transition, including the synthetic
// running transition at dispatch time. This is the sole progress channel.
type Update struct {
	ModuleID string
	Target   string
	Status   state.RunStatus
	ExitCode *int
}

// Scheduler is the bounded-concurrency execution engine. Requests are queued
// FIFO; at most max run at once; duplicate enqueues for a key already queued
// or running are dropped.
type Scheduler struct {
	dashboard string
	exec      execer.Runner
	diag      diag.Source
	notify    func(Update)
	log       *slog.Logger
	settle    SettleConfig
	registry  *Registry

	mu       sync.Mutex
	max      int
	stops    int // bumped by StopAll; runs dispatched before a stop must not escalate
	pending  []Request
	queued   map[state.Key]struct{} // queued or running
	inflight map[state.Key]*run
}

type run struct {
	req    Request
	cancel context.CancelFunc
	gen    int    // value of stops at dispatch time
	taskID string // registry id when terminal-attached
}

// New builds a scheduler for one dashboard. dg may be nil when no diagnostics
// subsystem is available. notify must be non-nil and fast; it is called from
// scheduler goroutines.
func New(dashboard string, exec execer.Runner, dg diag.Source, notify func(Update), log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		dashboard: dashboard,
		exec:      exec,
		diag:      dg,
		notify:    notify,
		log:       log,
		settle:    DefaultSettle,
		registry:  NewRegistry(),
		max:       2,
		queued:    make(map[state.Key]struct{}),
		inflight:  make(map[state.Key]*run),
	}
}

// SetSettle overrides the diagnostics settle windows.
func (s *Scheduler) SetSettle(cfg SettleConfig) { s.settle = cfg }

// Registry exposes the supervised-task registry for reveal operations.
func (s *Scheduler) Registry() *Registry { return s.registry }

// SetMaxParallel updates the concurrency cap and re-runs the dispatch loop.
// Shrinking the cap never preempts in-flight work.
func (s *Scheduler) SetMaxParallel(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.max = n
	s.mu.Unlock()
	s.kick()
}

// Enqueue adds a run request. It reports false when the key is already
// queued or running (idempotent enqueue).
func (s *Scheduler) Enqueue(req Request) bool {
	k := req.key()
	s.mu.Lock()
	if _, dup := s.queued[k]; dup {
		s.mu.Unlock()
		return false
	}
	s.queued[k] = struct{}{}
	s.pending = append(s.pending, req)
	s.mu.Unlock()
	s.kick()
	return true
}

// Busy reports whether the key is queued or running.
func (s *Scheduler) Busy(moduleID, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queued[state.Key{ModuleID: moduleID, Target: target}]
	return ok
}

// InflightCount returns the number of executions currently running.
func (s *Scheduler) InflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// kick dispatches pending requests while slots are free. It runs after every
// enqueue, completion and cap change.
func (s *Scheduler) kick() {
	type launch struct {
		ctx context.Context
		r   *run
	}
	var started []launch
	s.mu.Lock()
	for len(s.inflight) < s.max && len(s.pending) > 0 {
		req := s.pending[0]
		s.pending = s.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		r := &run{req: req, cancel: cancel, gen: s.stops}
		s.inflight[req.key()] = r
		started = append(started, launch{ctx: ctx, r: r})
	}
	metrics.SetQueueDepth(s.dashboard, len(s.pending))
	metrics.SetInflight(s.dashboard, len(s.inflight))
	s.mu.Unlock()
	// The running notification must happen before the execute goroutine
	// exists, so a fast completion can never be overwritten by it.
	for _, l := range started {
		s.notify(Update{ModuleID: l.r.req.ModuleID, Target: l.r.req.Target, Status: state.RunRunning})
		go s.execute(l.ctx, l.r)
	}
}

// StopAll terminates in-flight terminal-attached executions and drops the
// pending queue. Silent executions already in flight run to completion.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	dropped := s.pending
	s.pending = nil
	for _, r := range dropped {
		delete(s.queued, r.key())
	}
	s.stops++
	metrics.SetQueueDepth(s.dashboard, 0)
	s.mu.Unlock()
	s.registry.KillAll()
	for _, r := range dropped {
		s.notify(Update{ModuleID: r.ModuleID, Target: r.Target, Status: state.RunIdle})
	}
}

// ClearTasks stops everything and wipes the task registry.
func (s *Scheduler) ClearTasks() {
	s.StopAll()
	s.registry.Clear()
}

func (s *Scheduler) execute(ctx context.Context, r *run) {
	started := time.Now()
	status, exitCode := s.executeOnce(ctx, r, r.req.Mode)
	// Silent escalation: anything but success re-runs terminal-attached so
	// the user gets something to look at. Terminal runs never downgrade,
	// and a stop issued while the silent run was in flight suppresses the
	// escalation so stop-all never starts new work.
	if r.req.Mode == ModeSilent && status != state.RunSuccess && !s.stopped(r) {
		s.log.Debug("silent run escalating to terminal",
			"module", r.req.ModuleID, "target", r.req.Target, "status", string(status))
		status, exitCode = s.executeOnce(ctx, r, ModeTerminal)
	}
	s.finish(r, status, exitCode, time.Since(started))
}

// stopped reports whether a StopAll happened after the run was dispatched.
func (s *Scheduler) stopped(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.gen != s.stops
}

func (s *Scheduler) executeOnce(ctx context.Context, r *run, mode Mode) (state.RunStatus, *int) {
	req := r.req
	name, args := req.Command[0], req.Command[1:]
	if mode == ModeSilent {
		res, err := s.exec.Run(ctx, req.Dir, name, args...)
		if err != nil {
			s.log.Warn("run failed to spawn", "module", req.ModuleID, "target", req.Target, "error", err)
			return state.RunFailed, nil
		}
		return s.classify(ctx, req.Dir, &res.ExitCode, res.Output), &res.ExitCode
	}
	task, err := s.exec.Start(ctx, req.Dir, name, args...)
	if err != nil {
		s.log.Warn("run failed to spawn", "module", req.ModuleID, "target", req.Target, "error", err)
		return state.RunFailed, nil
	}
	taskID := s.registry.Add(fmt.Sprintf("build %s:%s", req.ModuleID, req.Target), req.ModuleID, req.Target, task)
	s.mu.Lock()
	r.taskID = taskID
	s.mu.Unlock()
	<-task.Done()
	s.registry.Remove(taskID)
	var exitCode *int
	if code, ok := task.ExitCode(); ok {
		exitCode = &code
	}
	return s.classify(ctx, req.Dir, exitCode, task.Output()), exitCode
}

func (s *Scheduler) finish(r *run, status state.RunStatus, exitCode *int, took time.Duration) {
	k := r.req.key()
	s.mu.Lock()
	delete(s.inflight, k)
	delete(s.queued, k)
	metrics.SetInflight(s.dashboard, len(s.inflight))
	s.mu.Unlock()
	r.cancel()
	metrics.IncRun(s.dashboard, string(status))
	metrics.ObserveRunDuration(s.dashboard, took.Seconds())
	s.notify(Update{ModuleID: r.req.ModuleID, Target: r.req.Target, Status: status, ExitCode: exitCode})
	s.kick()
}
