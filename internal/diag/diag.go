package diag

import "strings"

// Severity of a reported diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Diagnostic is one compiler/analyzer finding for a file.
type Diagnostic struct {
	Severity Severity
	Message  string
	Line     int
}

// Source reports diagnostics per absolute file path and notifies when the set
// for a path changes. The engine works without one; classification then falls
// back to output-text matching.
type Source interface {
	// Diagnostics returns the current findings keyed by file path.
	Diagnostics() map[string][]Diagnostic
	// Subscribe returns a channel delivering changed paths and a cancel
	// function. Implementations must not block on a slow receiver.
	Subscribe() (<-chan string, func())
}

// Counts sums errors and warnings for all paths under prefix.
func Counts(src Source, prefix string) (errCount, warnCount int) {
	if src == nil {
		return 0, 0
	}
	for path, ds := range src.Diagnostics() {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		for _, d := range ds {
			switch d.Severity {
			case SeverityError:
				errCount++
			case SeverityWarning:
				warnCount++
			}
		}
	}
	return errCount, warnCount
}
