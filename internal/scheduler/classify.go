package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/loykin/cmdash/internal/diag"
	"github.com/loykin/cmdash/internal/state"
)

// SettleConfig bounds the wait for the diagnostics subsystem to finish
// re-evaluating a module after a build exits.
type SettleConfig struct {
	Initial time.Duration // window for the first change signal
	Quiet   time.Duration // extension after each further signal
	Ceiling time.Duration // hard bound on the whole wait
}

// DefaultSettle absorbs the usual latency between process exit and the static
// analyzer catching up.
var DefaultSettle = SettleConfig{
	Initial: time.Second,
	Quiet:   300 * time.Millisecond,
	Ceiling: 5 * time.Second,
}

// classify reduces a finished execution to a run status:
// non-zero or unknown exit fails; then diagnostics counts (after a settle
// wait) decide; then the output text; otherwise success.
func (s *Scheduler) classify(ctx context.Context, modulePath string, exitCode *int, output string) state.RunStatus {
	if exitCode == nil || *exitCode != 0 {
		return state.RunFailed
	}
	if s.diag != nil {
		s.settleWait(ctx, modulePath)
		errs, warns := diag.Counts(s.diag, modulePath)
		if errs > 0 {
			return state.RunFailed
		}
		if warns > 0 {
			return state.RunWarning
		}
	}
	switch scanOutput(output) {
	case state.RunFailed:
		return state.RunFailed
	case state.RunWarning:
		return state.RunWarning
	}
	return state.RunSuccess
}

// scanOutput applies the textual fallback patterns line by line.
func scanOutput(output string) state.RunStatus {
	status := state.RunSuccess
	for _, line := range strings.Split(output, "\n") {
		l := strings.ToLower(line)
		if strings.Contains(l, "error:") || strings.Contains(l, "fatal error:") {
			return state.RunFailed
		}
		if strings.Contains(l, "warning:") {
			status = state.RunWarning
		}
	}
	return status
}

// settleWait blocks until diagnostics for modulePath have settled: up to
// Initial for the first change signal, extending by Quiet after each further
// signal, never longer than Ceiling. A single timer drives both states.
func (s *Scheduler) settleWait(ctx context.Context, modulePath string) {
	ch, cancel := s.diag.Subscribe()
	defer cancel()
	if ch == nil {
		return
	}
	cfg := s.settle
	deadline := time.Now().Add(cfg.Ceiling)
	timer := time.NewTimer(capBy(cfg.Initial, deadline))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			if !strings.HasPrefix(p, modulePath) {
				continue
			}
			wait := capBy(cfg.Quiet, deadline)
			if wait <= 0 {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
		}
	}
}

func capBy(d time.Duration, deadline time.Time) time.Duration {
	if remaining := time.Until(deadline); d > remaining {
		return remaining
	}
	return d
}
