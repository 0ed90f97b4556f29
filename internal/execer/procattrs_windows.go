//go:build windows

package execer

import (
	"os"
	"os/exec"
	"time"
)

func setProcAttrs(_ *exec.Cmd) {}

func killGroup(pid int, done <-chan struct{}) {
	p, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = p.Kill()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		// best-effort
	}
}
