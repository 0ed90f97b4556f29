package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncedRefreshOnChange(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	w, err := newWithDebounce(nil, []string{dir}, func() { fired.Add(1) }, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer func() { _ = w.Close() }()

	// a burst of changes collapses into one callback
	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, "module.cmake")
		if err := os.WriteFile(name, []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fired.Load() >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("callback fired %d times, want 1", got)
	}
}

func TestUnreadableRootIsSkipped(t *testing.T) {
	w, err := newWithDebounce(nil, []string{"/does/not/exist"}, func() {}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("missing root must not be fatal: %v", err)
	}
	_ = w.Close()
}

func TestCloseStopsLoop(t *testing.T) {
	dir := t.TempDir()
	w, err := newWithDebounce(nil, []string{dir}, func() {}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
