package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/cmdash/internal/execer"
)

// TaskInfo describes one supervised execution tracked by a Registry.
type TaskInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ModuleID  string    `json:"module_id"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

// Registry tracks live supervised tasks so the controller can reveal or
// terminate them. It is an explicit object passed by reference; there is no
// process-wide task table.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*registryEntry
}

type registryEntry struct {
	info TaskInfo
	task execer.Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*registryEntry)}
}

// Add registers a task and returns its generated id.
func (r *Registry) Add(name, moduleID, target string, task execer.Task) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.tasks[id] = &registryEntry{
		info: TaskInfo{ID: id, Name: name, ModuleID: moduleID, Target: target, StartedAt: time.Now()},
		task: task,
	}
	r.mu.Unlock()
	return id
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

// Find returns the newest task for a (module, target) pair.
func (r *Registry) Find(moduleID, target string) (TaskInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *registryEntry
	for _, e := range r.tasks {
		if e.info.ModuleID != moduleID || e.info.Target != target {
			continue
		}
		if best == nil || e.info.StartedAt.After(best.info.StartedAt) {
			best = e
		}
	}
	if best == nil {
		return TaskInfo{}, false
	}
	return best.info, true
}

// List returns all tracked tasks ordered by start time.
func (r *Registry) List() []TaskInfo {
	r.mu.Lock()
	out := make([]TaskInfo, 0, len(r.tasks))
	for _, e := range r.tasks {
		out = append(out, e.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// KillAll terminates every tracked task. Entries are removed as their
// monitors observe the exit.
func (r *Registry) KillAll() {
	r.mu.Lock()
	tasks := make([]execer.Task, 0, len(r.tasks))
	for _, e := range r.tasks {
		if e.task != nil {
			tasks = append(tasks, e.task)
		}
	}
	r.mu.Unlock()
	for _, t := range tasks {
		t.Kill()
	}
}

// Clear kills everything and drops all entries.
func (r *Registry) Clear() {
	r.KillAll()
	r.mu.Lock()
	r.tasks = make(map[string]*registryEntry)
	r.mu.Unlock()
}
