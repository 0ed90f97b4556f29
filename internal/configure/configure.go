package configure

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/cmdash/internal/config"
	"github.com/loykin/cmdash/internal/execer"
	"github.com/loykin/cmdash/internal/generator"
)

// OutDir is the build directory created under each module.
const OutDir = "out"

// Runner ensures modules are configured before targets can run.
type Runner struct {
	exec execer.Runner
	log  *slog.Logger
}

func New(r execer.Runner, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{exec: r, log: log}
}

// Result reports what Ensure did. Configured is false when a cache already
// existed and the configure step was skipped.
type Result struct {
	Configured bool
	Generator  generator.Generator
	Output     string
}

// HasCache reports whether the module's out dir holds a CMake cache file.
func HasCache(modulePath string) bool {
	fi, err := os.Stat(filepath.Join(modulePath, OutDir, generator.CacheFile))
	return err == nil && fi.Mode().IsRegular()
}

// Ensure configures the module unless a cache already exists. The returned
// Result always carries the selected generator; Output holds the combined
// configure output when a configure actually ran.
func (r *Runner) Ensure(ctx context.Context, modulePath string, pref config.BuildSystem) (Result, error) {
	outDir := filepath.Join(modulePath, OutDir)
	if HasCache(modulePath) {
		return Result{Configured: false, Generator: generator.Select(pref, outDir)}, nil
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create out dir for %s: %w", modulePath, err)
	}
	gen := generator.Select(pref, outDir)
	res, err := r.exec.Run(ctx, modulePath, "cmake", "-G", gen.String(), "-B", OutDir, "-S", ".")
	out := res.Output
	if err != nil {
		return Result{Configured: true, Generator: gen, Output: out},
			fmt.Errorf("configure %s: %w", modulePath, err)
	}
	if res.ExitCode != 0 {
		return Result{Configured: true, Generator: gen, Output: out},
			fmt.Errorf("configure %s: cmake exited with %d", modulePath, res.ExitCode)
	}
	r.log.Debug("module configured", "module", modulePath, "generator", gen.String())
	return Result{Configured: true, Generator: gen, Output: out}, nil
}

// Wipe removes the module's out dir so the next Ensure reconfigures from
// scratch.
func Wipe(modulePath string) error {
	return os.RemoveAll(filepath.Join(modulePath, OutDir))
}
