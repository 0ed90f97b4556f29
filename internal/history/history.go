package history

import (
	"context"
	"time"
)

// Kind defines the kind of completed operation an event records.
type Kind string

const (
	KindRun       Kind = "run"
	KindConfigure Kind = "configure"
)

// Event is one completed run or configure, exported to external systems for
// statistics (build duration trends, flaky targets).
type Event struct {
	Kind       Kind          `json:"kind"`
	Dashboard  string        `json:"dashboard"`
	ModuleID   string        `json:"module_id"`
	ModuleName string        `json:"module_name"`
	Target     string        `json:"target,omitempty"`
	Status     string        `json:"status"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Sink is a destination for history events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
