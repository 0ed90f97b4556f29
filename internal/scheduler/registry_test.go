package scheduler

import (
	"testing"
	"time"
)

func TestRegistryAddFindRemove(t *testing.T) {
	r := NewRegistry()
	task := newFakeTask("", 0)
	id := r.Add("build m1:all", "m1", "all", task)
	if id == "" {
		t.Fatal("empty id")
	}

	info, ok := r.Find("m1", "all")
	if !ok || info.ID != id || info.Name != "build m1:all" {
		t.Fatalf("Find: %+v ok=%v", info, ok)
	}
	if _, ok := r.Find("m1", "flash"); ok {
		t.Fatal("found task for wrong target")
	}

	r.Remove(id)
	if _, ok := r.Find("m1", "all"); ok {
		t.Fatal("entry survived Remove")
	}
}

func TestRegistryFindNewest(t *testing.T) {
	r := NewRegistry()
	first := r.Add("one", "m1", "all", newFakeTask("", 0))
	time.Sleep(2 * time.Millisecond)
	second := r.Add("two", "m1", "all", newFakeTask("", 0))
	info, ok := r.Find("m1", "all")
	if !ok || info.ID != second {
		t.Fatalf("expected newest %s, got %+v", second, info)
	}
	_ = first
}

func TestRegistryListOrderedByStart(t *testing.T) {
	r := NewRegistry()
	r.Add("a", "m1", "all", newFakeTask("", 0))
	time.Sleep(2 * time.Millisecond)
	r.Add("b", "m2", "all", newFakeTask("", 0))
	list := r.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("list: %+v", list)
	}
}

func TestRegistryKillAllAndClear(t *testing.T) {
	r := NewRegistry()
	t1 := newFakeTask("", 0)
	t2 := newFakeTask("", 0)
	r.Add("a", "m1", "all", t1)
	r.Add("b", "m2", "all", t2)

	r.KillAll()
	select {
	case <-t1.Done():
	default:
		t.Fatal("t1 not killed")
	}
	select {
	case <-t2.Done():
	default:
		t.Fatal("t2 not killed")
	}
	if len(r.List()) != 2 {
		t.Fatal("KillAll must not drop entries")
	}

	r.Clear()
	if len(r.List()) != 0 {
		t.Fatal("Clear must drop entries")
	}
}
