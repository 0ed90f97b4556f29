package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/cmdash/internal/discovery"
)

func mods(names ...string) []discovery.Module {
	out := make([]discovery.Module, 0, len(names))
	for _, n := range names {
		out = append(out, discovery.Module{ID: "ws|modules|" + n, Name: n, Path: "/ws/modules/" + n})
	}
	return out
}

func statusPtr(s RunStatus) *RunStatus { return &s }

func TestBackfillInvariant(t *testing.T) {
	s := NewStore()
	s.SetTargets([]string{"all", "flash"})
	s.SetModules(mods("m1", "m2"))

	snap := s.Snapshot()
	require.Len(t, snap.Modules, 2)
	for _, ms := range snap.Modules {
		for _, target := range []string{"all", "flash"} {
			r, ok := ms.Runs[target]
			require.True(t, ok, "run entry missing for %s/%s", ms.Module.Name, target)
			assert.Equal(t, RunIdle, r.Status)
		}
	}

	// Adding a target later back-fills idle entries without touching others.
	s.UpdateRun("ws|modules|m1", "all", RunPatch{Status: statusPtr(RunSuccess)})
	s.SetTargets([]string{"all", "flash", "format"})
	ms, ok := s.Module("ws|modules|m1")
	require.True(t, ok)
	assert.Equal(t, RunSuccess, ms.Runs["all"].Status)
	assert.Equal(t, RunIdle, ms.Runs["format"].Status)
}

func TestSetTargetsKeepsStaleRuns(t *testing.T) {
	s := NewStore()
	s.SetTargets([]string{"all", "flash"})
	s.SetModules(mods("m1"))
	s.UpdateRun("ws|modules|m1", "flash", RunPatch{Status: statusPtr(RunFailed)})

	// flash drops out of the list but its run record persists
	s.SetTargets([]string{"all"})
	ms, _ := s.Module("ws|modules|m1")
	assert.Equal(t, RunFailed, ms.Runs["flash"].Status)
	assert.Equal(t, []Key{{ModuleID: "ws|modules|m1", Target: "flash"}}, s.FailedTargets())

	// a full module reset clears it
	s.SetModules(mods("m1"))
	ms, _ = s.Module("ws|modules|m1")
	_, ok := ms.Runs["flash"]
	assert.False(t, ok)
}

func TestUpdateRunShallowMerge(t *testing.T) {
	s := NewStore()
	s.SetTargets([]string{"all"})
	s.SetModules(mods("m1"))

	started := time.Now()
	s.UpdateRun("ws|modules|m1", "all", RunPatch{Status: statusPtr(RunRunning), StartedAt: &started})
	code := 0
	finished := started.Add(time.Second)
	s.UpdateRun("ws|modules|m1", "all", RunPatch{Status: statusPtr(RunSuccess), ExitCode: &code, FinishedAt: &finished})

	ms, _ := s.Module("ws|modules|m1")
	r := ms.Runs["all"]
	assert.Equal(t, RunSuccess, r.Status)
	require.NotNil(t, r.ExitCode)
	assert.Equal(t, 0, *r.ExitCode)
	assert.Equal(t, started, r.StartedAt) // untouched by second patch
	assert.Equal(t, finished, r.FinishedAt)
}

func TestUpdateUnknownModuleIsNoOp(t *testing.T) {
	s := NewStore()
	s.SetTargets([]string{"all"})
	s.SetModules(mods("m1"))
	s.UpdateRun("nope", "all", RunPatch{Status: statusPtr(RunFailed)})
	s.UpdateConfigure("nope", ConfigurePatch{})
	assert.Empty(t, s.FailedTargets())
}

func TestFailedTargetsOrdering(t *testing.T) {
	s := NewStore()
	s.SetTargets([]string{"t1", "t2"})
	s.SetModules(mods("m1", "m2"))

	s.UpdateRun("ws|modules|m1", "t1", RunPatch{Status: statusPtr(RunFailed)})
	s.UpdateRun("ws|modules|m1", "t2", RunPatch{Status: statusPtr(RunSuccess)})
	s.UpdateRun("ws|modules|m2", "t1", RunPatch{Status: statusPtr(RunFailed)})

	want := []Key{
		{ModuleID: "ws|modules|m1", Target: "t1"},
		{ModuleID: "ws|modules|m2", Target: "t1"},
	}
	assert.Equal(t, want, s.FailedTargets())
}

func TestAllAvailableOrdering(t *testing.T) {
	s := NewStore()
	s.SetTargets([]string{"all", "flash", "format"})
	s.SetModules(mods("m1", "m2"))

	s.SetAvailability("ws|modules|m1", map[string]bool{"flash": true, "all": true})
	s.SetAvailability("ws|modules|m2", map[string]bool{"format": true})

	want := []Key{
		{ModuleID: "ws|modules|m1", Target: "all"},
		{ModuleID: "ws|modules|m1", Target: "flash"},
		{ModuleID: "ws|modules|m2", Target: "format"},
	}
	assert.Equal(t, want, s.AllAvailable())
	assert.Equal(t, []string{"all", "flash"}, s.AvailableFor("ws|modules|m1"))
}

func TestUpdateConfigure(t *testing.T) {
	s := NewStore()
	s.SetTargets([]string{"all"})
	s.SetModules(mods("m1"))

	st := ConfigureFailed
	out := "CMake Error"
	needs := true
	s.UpdateConfigure("ws|modules|m1", ConfigurePatch{Status: &st, Output: &out, NeedsConfigure: &needs})

	ms, _ := s.Module("ws|modules|m1")
	assert.Equal(t, ConfigureFailed, ms.Configure.Status)
	assert.Equal(t, "CMake Error", ms.Configure.Output)
	assert.True(t, ms.NeedsConfigure)

	st = ConfigureSuccess
	needs = false
	gen := "Ninja"
	s.UpdateConfigure("ws|modules|m1", ConfigurePatch{Status: &st, NeedsConfigure: &needs, Generator: &gen})
	ms, _ = s.Module("ws|modules|m1")
	assert.Equal(t, ConfigureSuccess, ms.Configure.Status)
	assert.Equal(t, "CMake Error", ms.Configure.Output) // untouched
	assert.False(t, ms.NeedsConfigure)
	assert.Equal(t, "Ninja", ms.Generator)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	s.SetTargets([]string{"all"})
	s.SetModules(mods("m1"))
	snap := s.Snapshot()
	snap.Modules[0].Runs["all"] = RunResult{Status: RunFailed}
	snap.Modules[0].Availability["all"] = true

	ms, _ := s.Module("ws|modules|m1")
	assert.Equal(t, RunIdle, ms.Runs["all"].Status)
	assert.False(t, ms.Availability["all"])
}
