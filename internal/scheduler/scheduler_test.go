package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loykin/cmdash/internal/execer"
	"github.com/loykin/cmdash/internal/state"
)

// fakeTask is a controllable supervised execution.
type fakeTask struct {
	mu     sync.Mutex
	done   chan struct{}
	output string
	code   int
	ok     bool
}

func newFakeTask(output string, code int) *fakeTask {
	return &fakeTask{done: make(chan struct{}), output: output, code: code, ok: true}
}

func (t *fakeTask) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *fakeTask) Done() <-chan struct{} { return t.done }
func (t *fakeTask) Output() string        { return t.output }

func (t *fakeTask) ExitCode() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code, t.ok
}

func (t *fakeTask) Kill() {
	t.mu.Lock()
	t.ok = false
	t.mu.Unlock()
	t.finish()
}

// fakeExec serves canned results and tracks concurrency.
type fakeExec struct {
	mu            sync.Mutex
	runResult     execer.Result
	runGate       chan struct{} // non-nil: Run blocks until closed
	concurrent    int
	maxConcurrent int
	runCalls      int
	startCalls    int
	tasks         []*fakeTask
	taskOutput    string
	taskCode      int
	autoFinish    bool
}

func (f *fakeExec) Run(ctx context.Context, _, _ string, _ ...string) (execer.Result, error) {
	f.mu.Lock()
	f.runCalls++
	f.concurrent++
	if f.concurrent > f.maxConcurrent {
		f.maxConcurrent = f.concurrent
	}
	gate := f.runGate
	res := f.runResult
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.concurrent--
	f.mu.Unlock()
	return res, nil
}

func (f *fakeExec) Start(context.Context, string, string, ...string) (execer.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	t := newFakeTask(f.taskOutput, f.taskCode)
	f.tasks = append(f.tasks, t)
	if f.autoFinish {
		t.finish()
	}
	return t, nil
}

// recorder collects updates by status.
type recorder struct {
	mu      sync.Mutex
	updates []Update
	signal  chan Update
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan Update, 128)}
}

func (r *recorder) notify(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	r.signal <- u
}

func (r *recorder) waitFor(t *testing.T, status state.RunStatus) Update {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-r.signal:
			if u.Status == status {
				return u
			}
		case <-deadline:
			t.Fatalf("no %s update observed", status)
		}
	}
}

func (r *recorder) count(moduleID, target string, terminal bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.ModuleID != moduleID || u.Target != target {
			continue
		}
		isTerminal := u.Status == state.RunSuccess || u.Status == state.RunWarning || u.Status == state.RunFailed
		if isTerminal == terminal {
			n++
		}
	}
	return n
}

func req(module, target string, mode Mode) Request {
	return Request{ModuleID: module, Target: target, Dir: "/ws/" + module, Command: []string{"cmake", "--build", "out", "--target", target}, Mode: mode}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	gate := make(chan struct{})
	fe := &fakeExec{runGate: gate}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)

	if !s.Enqueue(req("m1", "all", ModeSilent)) {
		t.Fatal("first enqueue rejected")
	}
	rec.waitFor(t, state.RunRunning)
	if s.Enqueue(req("m1", "all", ModeSilent)) {
		t.Fatal("duplicate enqueue while running must be dropped")
	}
	close(gate)
	rec.waitFor(t, state.RunSuccess)

	// let any stray dispatch settle, then verify exactly one completion
	time.Sleep(50 * time.Millisecond)
	if got := rec.count("m1", "all", true); got != 1 {
		t.Fatalf("completion events: %d", got)
	}
}

func TestDuplicateWhileQueuedIsDropped(t *testing.T) {
	gate := make(chan struct{})
	fe := &fakeExec{runGate: gate}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)
	s.SetMaxParallel(1)

	s.Enqueue(req("m1", "all", ModeSilent)) // occupies the slot
	if !s.Enqueue(req("m2", "all", ModeSilent)) {
		t.Fatal("distinct key rejected")
	}
	if s.Enqueue(req("m2", "all", ModeSilent)) {
		t.Fatal("duplicate of queued key accepted")
	}
	close(gate)
	rec.waitFor(t, state.RunSuccess)
	rec.waitFor(t, state.RunSuccess)
	time.Sleep(50 * time.Millisecond)
	if got := rec.count("m2", "all", true); got != 1 {
		t.Fatalf("completion events for queued dup: %d", got)
	}
}

func TestConcurrencyCap(t *testing.T) {
	gate := make(chan struct{})
	fe := &fakeExec{runGate: gate}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)
	s.SetMaxParallel(2)

	for _, m := range []string{"m1", "m2", "m3", "m4", "m5"} {
		s.Enqueue(req(m, "all", ModeSilent))
	}
	rec.waitFor(t, state.RunRunning)
	rec.waitFor(t, state.RunRunning)
	time.Sleep(50 * time.Millisecond)
	if n := s.InflightCount(); n != 2 {
		t.Fatalf("inflight at cap 2: %d", n)
	}

	// Raising the cap dispatches more without disturbing running work.
	s.SetMaxParallel(4)
	rec.waitFor(t, state.RunRunning)
	rec.waitFor(t, state.RunRunning)
	if n := s.InflightCount(); n != 4 {
		t.Fatalf("inflight after raise: %d", n)
	}

	// Shrinking never preempts.
	s.SetMaxParallel(1)
	if n := s.InflightCount(); n != 4 {
		t.Fatalf("shrink preempted work: %d inflight", n)
	}

	close(gate)
	for i := 0; i < 5; i++ {
		rec.waitFor(t, state.RunSuccess)
	}
	fe.mu.Lock()
	maxSeen := fe.maxConcurrent
	fe.mu.Unlock()
	if maxSeen > 4 {
		t.Fatalf("cap exceeded: %d concurrent runs", maxSeen)
	}
}

func TestSilentEscalatesToTerminalOnFailure(t *testing.T) {
	fe := &fakeExec{
		runResult:  execer.Result{Output: "src.c:3: error: boom", ExitCode: 1},
		taskOutput: "src.c:3: warning: shadowed\n",
		taskCode:   0,
		autoFinish: true,
	}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)

	s.Enqueue(req("m1", "flash", ModeSilent))
	u := rec.waitFor(t, state.RunWarning)
	if u.ExitCode == nil || *u.ExitCode != 0 {
		t.Fatalf("exit code from escalated run: %v", u.ExitCode)
	}
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.runCalls != 1 || fe.startCalls != 1 {
		t.Fatalf("expected one silent then one terminal run, got run=%d start=%d", fe.runCalls, fe.startCalls)
	}
}

func TestSilentSuccessDoesNotEscalate(t *testing.T) {
	fe := &fakeExec{runResult: execer.Result{Output: "ok\n", ExitCode: 0}}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)
	s.Enqueue(req("m1", "all", ModeSilent))
	rec.waitFor(t, state.RunSuccess)
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.startCalls != 0 {
		t.Fatalf("successful silent run escalated: %d", fe.startCalls)
	}
}

func TestTerminalRunLifecycle(t *testing.T) {
	fe := &fakeExec{taskOutput: "done\n", taskCode: 0}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)

	s.Enqueue(req("m1", "all", ModeTerminal))
	rec.waitFor(t, state.RunRunning)

	// while running the registry can reveal the task
	waitUntil(t, func() bool {
		_, ok := s.Registry().Find("m1", "all")
		return ok
	})

	fe.mu.Lock()
	task := fe.tasks[0]
	fe.mu.Unlock()
	task.finish()
	rec.waitFor(t, state.RunSuccess)

	if _, ok := s.Registry().Find("m1", "all"); ok {
		t.Fatal("registry entry not removed after completion")
	}
}

func TestStopAllKillsRunningAndDropsQueued(t *testing.T) {
	fe := &fakeExec{taskOutput: "", taskCode: 0}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)
	s.SetMaxParallel(1)

	s.Enqueue(req("m1", "all", ModeTerminal))
	rec.waitFor(t, state.RunRunning)
	waitUntil(t, func() bool {
		_, ok := s.Registry().Find("m1", "all")
		return ok
	})
	s.Enqueue(req("m2", "all", ModeTerminal)) // stays queued

	s.StopAll()

	// the killed run reports failed (unknown exit), the queued one reverts to idle
	u := rec.waitFor(t, state.RunFailed)
	if u.ModuleID != "m1" {
		t.Fatalf("failed update for %s", u.ModuleID)
	}
	idle := rec.waitFor(t, state.RunIdle)
	if idle.ModuleID != "m2" {
		t.Fatalf("idle update for %s", idle.ModuleID)
	}
	if s.Busy("m2", "all") {
		t.Fatal("queued request not cleared")
	}
}

func TestStopAllSuppressesSilentEscalation(t *testing.T) {
	gate := make(chan struct{})
	fe := &fakeExec{
		runGate:    gate,
		runResult:  execer.Result{Output: "src.c:3: error: boom", ExitCode: 1},
		autoFinish: true,
	}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)

	s.Enqueue(req("m1", "all", ModeSilent))
	rec.waitFor(t, state.RunRunning)

	// the silent run is in flight; a stop must let it finish but never
	// re-dispatch it terminal-attached
	s.StopAll()
	close(gate)

	u := rec.waitFor(t, state.RunFailed)
	if u.ModuleID != "m1" {
		t.Fatalf("failed update for %s", u.ModuleID)
	}
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.startCalls != 0 {
		t.Fatalf("silent run escalated after StopAll: startCalls=%d", fe.startCalls)
	}
}

func TestRunningNeverFollowsCompletion(t *testing.T) {
	fe := &fakeExec{runResult: execer.Result{Output: "ok\n", ExitCode: 0}}
	rec := newRecorder()
	s := New("d", fe, nil, rec.notify, nil)
	s.SetMaxParallel(4)

	const n = 50
	for i := 0; i < n; i++ {
		s.Enqueue(req(fmt.Sprintf("m%d", i), "all", ModeSilent))
	}
	for i := 0; i < n; i++ {
		rec.waitFor(t, state.RunSuccess)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	finished := make(map[string]bool)
	for _, u := range rec.updates {
		key := u.ModuleID + "/" + u.Target
		switch u.Status {
		case state.RunRunning:
			if finished[key] {
				t.Fatalf("running update after completion for %s", key)
			}
		case state.RunSuccess, state.RunWarning, state.RunFailed:
			finished[key] = true
		}
	}
}

func TestClassificationTable(t *testing.T) {
	rec := newRecorder()
	s := New("d", &fakeExec{}, nil, rec.notify, nil)
	one, zero := 1, 0
	cases := []struct {
		name   string
		exit   *int
		output string
		want   state.RunStatus
	}{
		{"non-zero exit wins", &one, "everything fine", state.RunFailed},
		{"unknown exit fails", nil, "", state.RunFailed},
		{"warning text", &zero, "file.c:10: warning: unused variable", state.RunWarning},
		{"error text", &zero, "file.c:10: error: undefined reference", state.RunFailed},
		{"fatal error text", &zero, "file.c:1: fatal error: missing.h: No such file", state.RunFailed},
		{"case-insensitive", &zero, "FILE.C:10: WARNING: unused", state.RunWarning},
		{"clean", &zero, "", state.RunSuccess},
		{"error beats warning", &zero, "a.c:1: warning: x\nb.c:2: error: y", state.RunFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.classify(context.Background(), "/m", tc.exit, tc.output)
			if got != tc.want {
				t.Fatalf("classify=%s want %s", got, tc.want)
			}
		})
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
