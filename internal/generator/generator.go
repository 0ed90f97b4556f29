package generator

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loykin/cmdash/internal/config"
)

// Generator is the CMake build-file family used for a module's out dir.
type Generator int

const (
	Ninja Generator = iota
	UnixMakefiles
)

// String returns the exact name CMake expects after -G.
func (g Generator) String() string {
	if g == Ninja {
		return "Ninja"
	}
	return "Unix Makefiles"
}

// CacheFile is the CMake cache file name inside an out dir.
const CacheFile = "CMakeCache.txt"

const cacheGeneratorKey = "CMAKE_GENERATOR:INTERNAL="

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Select decides which generator to use for outDir. An explicit preference
// wins without touching the filesystem. For auto, an existing cache pins the
// generator; otherwise ninja is preferred when installed, with Unix Makefiles
// as the fallback. Select never fails.
func Select(pref config.BuildSystem, outDir string) Generator {
	switch pref {
	case config.BuildSystemNinja:
		return Ninja
	case config.BuildSystemMake:
		return UnixMakefiles
	}
	if g, ok := fromCache(filepath.Join(outDir, CacheFile)); ok {
		return g
	}
	if _, err := lookPath("ninja"); err == nil {
		return Ninja
	}
	return UnixMakefiles
}

// fromCache scans CMakeCache.txt for the generator the existing configuration
// was produced with.
func fromCache(path string) (Generator, bool) {
	f, err := os.Open(path) // #nosec G304 -- path is derived from configured module roots
	if err != nil {
		return UnixMakefiles, false
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, cacheGeneratorKey) {
			continue
		}
		switch strings.TrimSpace(strings.TrimPrefix(line, cacheGeneratorKey)) {
		case "Ninja":
			return Ninja, true
		case "Unix Makefiles":
			return UnixMakefiles, true
		}
	}
	return UnixMakefiles, false
}
