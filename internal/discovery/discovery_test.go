package discovery

import (
	"os"
	"path/filepath"
	"testing"
)

func mkModule(t *testing.T, root, name, marker string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if marker != "" {
		if err := os.WriteFile(filepath.Join(dir, marker), []byte("# marker\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDiscoverFiltersAndSorts(t *testing.T) {
	ws := t.TempDir()
	root := filepath.Join(ws, "modules")
	mkModule(t, root, "a", "module.cmake")
	mkModule(t, root, "b", "") // no marker
	mkModule(t, root, "c", "module.cmake")
	mkModule(t, root, "Unity", "targets.cmake")
	// a plain file next to the module dirs must be ignored
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	mods := Discover(nil, ws, "modules", map[string]struct{}{"c": {}})
	if len(mods) != 2 {
		t.Fatalf("expected 2 modules, got %d: %+v", len(mods), mods)
	}
	// case-sensitive lexical order: "Unity" < "a"
	if mods[0].Name != "Unity" || mods[1].Name != "a" {
		t.Fatalf("order: %s, %s", mods[0].Name, mods[1].Name)
	}
	if mods[1].Path != filepath.Join(root, "a") {
		t.Fatalf("path: %s", mods[1].Path)
	}
}

func TestDiscoverStableIDs(t *testing.T) {
	ws := t.TempDir()
	mkModule(t, filepath.Join(ws, "modules"), "a", "module.cmake")
	first := Discover(nil, ws, "modules", nil)
	second := Discover(nil, ws, "modules", nil)
	if len(first) != 1 || len(second) != 1 || first[0].ID != second[0].ID {
		t.Fatalf("ids not stable: %+v vs %+v", first, second)
	}
}

func TestDiscoverMissingRootYieldsEmpty(t *testing.T) {
	mods := Discover(nil, t.TempDir(), "does-not-exist", nil)
	if len(mods) != 0 {
		t.Fatalf("expected empty list, got %+v", mods)
	}
}

func TestDiscoverBothMarkersAccepted(t *testing.T) {
	ws := t.TempDir()
	root := filepath.Join(ws, "modules")
	mkModule(t, root, "manifest", "module.cmake")
	mkModule(t, root, "custom", "targets.cmake")
	mods := Discover(nil, ws, "modules", nil)
	if len(mods) != 2 {
		t.Fatalf("expected both marker kinds, got %+v", mods)
	}
}
