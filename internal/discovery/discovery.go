package discovery

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Marker files that make a directory a build module. A module either carries
// the module manifest or a custom-targets declaration.
var markerFiles = []string{"module.cmake", "targets.cmake"}

// Module is a discovered build unit. Modules are immutable; a rescan replaces
// the whole list.
type Module struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// moduleID builds a stable composite id from workspace root, module root and
// directory name.
func moduleID(workspaceRoot, rootRel, name string) string {
	return workspaceRoot + "|" + rootRel + "|" + name
}

// Discover scans workspaceRoot/rootRel for module directories. Directories
// without a marker file and names in excluded are skipped. The result is
// sorted by name. An unreadable root yields an empty list; discovery is
// best-effort across roots.
func Discover(log *slog.Logger, workspaceRoot, rootRel string, excluded map[string]struct{}) []Module {
	if log == nil {
		log = slog.Default()
	}
	root := filepath.Join(workspaceRoot, rootRel)
	entries, err := os.ReadDir(root)
	if err != nil {
		log.Debug("module root not readable", "root", root, "error", err)
		return nil
	}
	var modules []Module
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if _, skip := excluded[name]; skip {
			continue
		}
		dir := filepath.Join(root, name)
		if !hasMarker(dir) {
			continue
		}
		modules = append(modules, Module{
			ID:   moduleID(workspaceRoot, rootRel, name),
			Name: name,
			Path: dir,
		})
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules
}

func hasMarker(dir string) bool {
	for _, m := range markerFiles {
		fi, err := os.Stat(filepath.Join(dir, m))
		if err == nil && fi.Mode().IsRegular() {
			return true
		}
	}
	return false
}
