package execer

import (
	"context"
	"errors"
	"os/exec"
	"sync"
)

// Result is the outcome of a synchronous run. Output holds combined
// stdout+stderr. A non-zero exit is not an error; only spawn failures are.
type Result struct {
	Output   string
	ExitCode int
}

// Runner abstracts subprocess execution so callers can be tested without
// spawning real build tools.
type Runner interface {
	// Run executes the command in dir and blocks until it exits.
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
	// Start launches the command in dir as a supervised task.
	Start(ctx context.Context, dir, name string, args ...string) (Task, error)
}

// Task is a supervised subprocess: an exit event, incremental output and
// group termination.
type Task interface {
	Done() <-chan struct{}
	Output() string
	ExitCode() (code int, ok bool)
	Kill()
}

// Exec runs commands with os/exec. The zero value is ready to use.
type Exec struct{}

var _ Runner = Exec{}

func (Exec) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	// #nosec G204 -- commands come from the engine's own generator/target logic
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	setProcAttrs(cmd)
	buf := newBoundedBuffer(MaxOutputBytes)
	cmd.Stdout = buf
	cmd.Stderr = buf
	err := cmd.Run()
	res := Result{Output: buf.String()}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func (Exec) Start(ctx context.Context, dir, name string, args ...string) (Task, error) {
	// #nosec G204 -- commands come from the engine's own generator/target logic
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	setProcAttrs(cmd)
	h := &Handle{
		buf:  newBoundedBuffer(MaxOutputBytes),
		done: make(chan struct{}),
	}
	cmd.Stdout = h.buf
	cmd.Stderr = h.buf
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.cmd = cmd
	h.mu.Unlock()
	go h.monitor()
	return h, nil
}

// Handle is the os/exec-backed Task implementation.
type Handle struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	buf      *boundedBuffer
	done     chan struct{}
	exitCode int
	exitErr  error
	exited   bool
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Output returns the captured combined output so far.
func (h *Handle) Output() string { return h.buf.String() }

// ExitCode reports the exit code; ok is false while still running or when the
// process could not be waited on.
func (h *Handle) ExitCode() (code int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return 0, false
	}
	if h.exitErr != nil && h.exitCode < 0 {
		return h.exitCode, false
	}
	return h.exitCode, true
}

// PID returns the subprocess pid, or 0 when unknown.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd != nil && h.cmd.Process != nil {
		return h.cmd.Process.Pid
	}
	return 0
}

func (h *Handle) monitor() {
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()
	err := cmd.Wait()
	h.mu.Lock()
	h.exited = true
	h.exitErr = err
	h.exitCode = 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			h.exitCode = ee.ExitCode()
		} else {
			h.exitCode = -1
		}
	}
	h.mu.Unlock()
	close(h.done)
}

// Kill terminates the process group, escalating from SIGTERM to SIGKILL.
// Safe to call after exit.
func (h *Handle) Kill() {
	pid := h.PID()
	if pid == 0 {
		return
	}
	select {
	case <-h.done:
		return
	default:
	}
	killGroup(pid, h.done)
}
