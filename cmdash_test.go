package cmdash

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/cmdash/internal/execer"
	"github.com/loykin/cmdash/internal/state"
)

type nopExec struct{}

func (nopExec) Run(context.Context, string, string, ...string) (execer.Result, error) {
	return execer.Result{ExitCode: 0}, nil
}

func (nopExec) Start(context.Context, string, string, ...string) (execer.Task, error) {
	t := &closedTask{}
	return t, nil
}

type closedTask struct{}

func (*closedTask) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (*closedTask) Output() string        { return "" }
func (*closedTask) ExitCode() (int, bool) { return 0, true }
func (*closedTask) Kill()                 {}

func TestNewControllerSnapshotBackfill(t *testing.T) {
	ctrl := New(DashboardConfig{
		Name:    "main",
		Roots:   []string{"modules"},
		Targets: []string{"all", "flash"},
	}, Options{WorkspaceRoot: t.TempDir(), Exec: nopExec{}})
	defer ctrl.Close()

	snap := ctrl.Snapshot()
	if len(snap.Targets) != 2 {
		t.Fatalf("targets: %v", snap.Targets)
	}

	ctrl.Refresh(context.Background())
	if got := len(ctrl.Snapshot().Modules); got != 0 {
		t.Fatalf("empty workspace should discover nothing, got %d", got)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdash.toml")
	cfgToml := `
build_system = "make"
jobs = "4"

[[dashboards]]
name = "main"
roots = ["modules"]
targets = ["all"]
`
	if err := os.WriteFile(path, []byte(cfgToml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Jobs.Count() != 4 {
		t.Fatalf("jobs: %d", cfg.Jobs.Count())
	}
	if cfg.MaxParallel != 2 {
		t.Fatalf("default max_parallel: %d", cfg.MaxParallel)
	}
}

func TestRegisterMetricsDefaultIdempotent(t *testing.T) {
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestSnapshotTypeAlias(t *testing.T) {
	var s Snapshot = state.Snapshot{Targets: []string{"all"}}
	if len(s.Targets) != 1 {
		t.Fatal("alias conversion failed")
	}
}
