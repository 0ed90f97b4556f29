package state

import (
	"sort"
	"sync"
	"time"

	"github.com/loykin/cmdash/internal/discovery"
)

// RunStatus is the classified outcome of a target run.
type RunStatus string

const (
	RunIdle    RunStatus = "idle"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunWarning RunStatus = "warning"
	RunFailed  RunStatus = "failed"
)

// ConfigureStatus is the outcome of a module configure.
type ConfigureStatus string

const (
	ConfigureIdle    ConfigureStatus = "idle"
	ConfigureRunning ConfigureStatus = "running"
	ConfigureSuccess ConfigureStatus = "success"
	ConfigureFailed  ConfigureStatus = "failed"
)

// RunResult is the per-(module,target) run record.
type RunResult struct {
	Status     RunStatus `json:"status"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// ConfigureResult is the per-module configure record.
type ConfigureResult struct {
	Status    ConfigureStatus `json:"status"`
	Output    string          `json:"output,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
}

// ModuleState is everything the store tracks for one discovered module.
type ModuleState struct {
	Module         discovery.Module     `json:"module"`
	Availability   map[string]bool      `json:"availability"`
	Runs           map[string]RunResult `json:"runs"`
	Generator      string               `json:"generator,omitempty"`
	NeedsConfigure bool                 `json:"needs_configure"`
	Configure      ConfigureResult      `json:"configure"`
}

// Key addresses one (module, target) pair.
type Key struct {
	ModuleID string `json:"module_id"`
	Target   string `json:"target"`
}

// RunPatch is a partial update to a RunResult; nil fields are left untouched.
type RunPatch struct {
	Status     *RunStatus
	ExitCode   *int
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// ConfigurePatch is a partial update to a module's configure state.
type ConfigurePatch struct {
	Status         *ConfigureStatus
	Output         *string
	UpdatedAt      *time.Time
	Generator      *string
	NeedsConfigure *bool
}

// Snapshot is the serializable view handed to the presentation layer.
type Snapshot struct {
	Targets []string      `json:"targets"`
	Modules []ModuleState `json:"modules"`
}

// Store is a pure in-memory reducer for one dashboard. It does no I/O; all
// mutations come from discovery, the configure runner and scheduler
// callbacks.
type Store struct {
	mu      sync.RWMutex
	targets []string
	order   []string // module ids in discovery order
	modules map[string]*ModuleState
}

func NewStore() *Store {
	return &Store{modules: make(map[string]*ModuleState)}
}

// SetTargets replaces the dashboard's target list and back-fills an idle run
// entry for every module that lacks one for a new target. Entries for targets
// no longer listed are kept until the next SetModules.
func (s *Store) SetTargets(targets []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append([]string(nil), targets...)
	for _, ms := range s.modules {
		backfill(ms, s.targets)
	}
}

// SetModules wholesale-replaces all module state. Availability, runs and
// configure state reset to fresh defaults, then idle run entries are
// back-filled for every current target.
func (s *Store) SetModules(mods []discovery.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.modules = make(map[string]*ModuleState, len(mods))
	for _, m := range mods {
		ms := &ModuleState{
			Module:       m,
			Availability: make(map[string]bool),
			Runs:         make(map[string]RunResult),
			Configure:    ConfigureResult{Status: ConfigureIdle},
		}
		backfill(ms, s.targets)
		s.order = append(s.order, m.ID)
		s.modules[m.ID] = ms
	}
}

func backfill(ms *ModuleState, targets []string) {
	for _, t := range targets {
		if _, ok := ms.Runs[t]; !ok {
			ms.Runs[t] = RunResult{Status: RunIdle}
		}
	}
}

// SetAvailability replaces a module's detected-target set. Unknown module ids
// are ignored.
func (s *Store) SetAvailability(moduleID string, available map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.modules[moduleID]
	if ms == nil {
		return
	}
	ms.Availability = make(map[string]bool, len(available))
	for t, ok := range available {
		ms.Availability[t] = ok
	}
}

// UpdateRun shallow-merges a partial run update. Unknown module ids are a
// defensive no-op.
func (s *Store) UpdateRun(moduleID, target string, p RunPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.modules[moduleID]
	if ms == nil {
		return
	}
	r := ms.Runs[target]
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ExitCode != nil {
		r.ExitCode = p.ExitCode
	}
	if p.StartedAt != nil {
		r.StartedAt = *p.StartedAt
	}
	if p.FinishedAt != nil {
		r.FinishedAt = *p.FinishedAt
	}
	ms.Runs[target] = r
}

// UpdateConfigure shallow-merges a partial configure update. Unknown module
// ids are a defensive no-op.
func (s *Store) UpdateConfigure(moduleID string, p ConfigurePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.modules[moduleID]
	if ms == nil {
		return
	}
	if p.Status != nil {
		ms.Configure.Status = *p.Status
	}
	if p.Output != nil {
		ms.Configure.Output = *p.Output
	}
	if p.UpdatedAt != nil {
		ms.Configure.UpdatedAt = *p.UpdatedAt
	}
	if p.Generator != nil {
		ms.Generator = *p.Generator
	}
	if p.NeedsConfigure != nil {
		ms.NeedsConfigure = *p.NeedsConfigure
	}
}

// Targets returns the dashboard's ordered target list.
func (s *Store) Targets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.targets...)
}

// Module returns a copy of one module's state.
func (s *Store) Module(moduleID string) (ModuleState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms := s.modules[moduleID]
	if ms == nil {
		return ModuleState{}, false
	}
	return copyModuleState(ms), true
}

// FailedTargets returns every (module, target) whose run status is failed, in
// module-then-target order. Stale targets no longer in the dashboard list are
// included after the listed ones, sorted for determinism.
func (s *Store) FailedTargets() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Key
	for _, id := range s.order {
		ms := s.modules[id]
		for _, t := range s.targets {
			if ms.Runs[t].Status == RunFailed {
				out = append(out, Key{ModuleID: id, Target: t})
			}
		}
		for _, t := range staleTargets(ms, s.targets) {
			if ms.Runs[t].Status == RunFailed {
				out = append(out, Key{ModuleID: id, Target: t})
			}
		}
	}
	return out
}

// AllAvailable returns every (module, target) pair currently detected as
// buildable, in module-then-target order. Used to seed run-all.
func (s *Store) AllAvailable() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Key
	for _, id := range s.order {
		ms := s.modules[id]
		for _, t := range s.targets {
			if ms.Availability[t] {
				out = append(out, Key{ModuleID: id, Target: t})
			}
		}
	}
	return out
}

// AvailableFor returns the module's available targets in dashboard order.
func (s *Store) AvailableFor(moduleID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms := s.modules[moduleID]
	if ms == nil {
		return nil
	}
	var out []string
	for _, t := range s.targets {
		if ms.Availability[t] {
			out = append(out, t)
		}
	}
	return out
}

// Snapshot returns a deep copy of the full dashboard state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Targets: append([]string(nil), s.targets...)}
	for _, id := range s.order {
		snap.Modules = append(snap.Modules, copyModuleState(s.modules[id]))
	}
	return snap
}

func copyModuleState(ms *ModuleState) ModuleState {
	cp := *ms
	cp.Availability = make(map[string]bool, len(ms.Availability))
	for k, v := range ms.Availability {
		cp.Availability[k] = v
	}
	cp.Runs = make(map[string]RunResult, len(ms.Runs))
	for k, v := range ms.Runs {
		cp.Runs[k] = v
	}
	return cp
}

func staleTargets(ms *ModuleState, listed []string) []string {
	inList := make(map[string]struct{}, len(listed))
	for _, t := range listed {
		inList[t] = struct{}{}
	}
	var stale []string
	for t := range ms.Runs {
		if _, ok := inList[t]; !ok {
			stale = append(stale, t)
		}
	}
	sort.Strings(stale)
	return stale
}
