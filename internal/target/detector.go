package target

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loykin/cmdash/internal/execer"
	"github.com/loykin/cmdash/internal/generator"
)

// OutDir is the per-module build directory all introspection runs against.
const OutDir = "out"

// Detector asks the build tool which target names a configured module knows.
type Detector struct {
	exec execer.Runner
	log  *slog.Logger
}

func New(r execer.Runner, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{exec: r, log: log}
}

// Detect returns the set of target names the module's build system reports.
// Introspection failures degrade to an empty set; the caller marks all
// targets unavailable in that case.
func (d *Detector) Detect(ctx context.Context, modulePath string, gen generator.Generator) map[string]struct{} {
	found := make(map[string]struct{})
	switch gen {
	case generator.Ninja:
		d.collect(ctx, found, modulePath, "ninja", "-C", OutDir, "-t", "targets")
		d.collect(ctx, found, modulePath, "ninja", "-C", OutDir, "-t", "targets", "all")
		if len(found) == 0 {
			d.collect(ctx, found, modulePath, "cmake", "--build", OutDir, "--target", "help")
		}
	default:
		d.collect(ctx, found, modulePath, "cmake", "--build", OutDir, "--target", "help")
		if len(found) == 0 {
			d.collect(ctx, found, modulePath, "make", "-C", OutDir, "help")
		}
	}
	return found
}

func (d *Detector) collect(ctx context.Context, into map[string]struct{}, dir, name string, args ...string) {
	res, err := d.exec.Run(ctx, dir, name, args...)
	if err != nil {
		d.log.Debug("target introspection failed", "module", dir, "cmd", name, "error", err)
		return
	}
	if res.ExitCode != 0 {
		d.log.Debug("target introspection exited non-zero", "module", dir, "cmd", name, "exit", res.ExitCode)
		return
	}
	for _, t := range ParseTargets(res.Output) {
		into[t] = struct{}{}
	}
}

// ParseTargets extracts target names from build-tool listing output.
// "... name" lines (cmake/make help style) are authoritative; any other line
// contributes its first whitespace token with a colon suffix stripped.
// Blank lines and "The following ..." instructional headers are skipped.
func ParseTargets(out string) []string {
	var targets []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "the following") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "..."); ok {
			fields := strings.Fields(rest)
			if len(fields) > 0 {
				targets = append(targets, fields[0])
			}
			continue
		}
		tok := strings.Fields(line)[0]
		if i := strings.IndexByte(tok, ':'); i >= 0 {
			tok = tok[:i]
		}
		if tok != "" {
			targets = append(targets, tok)
		}
	}
	return targets
}
