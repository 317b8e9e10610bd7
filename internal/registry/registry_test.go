package registry

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestRegisterAndList(t *testing.T) {
	r := New()

	if got := r.ListByWorkspace("w1"); len(got) != 0 {
		t.Errorf("unknown workspace list = %v, want empty", got)
	}

	r.Register("c1", "alice", "w1", t0)
	r.Register("c2", "bob", "w1", t0.Add(time.Second))
	r.Register("c3", "carol", "w2", t0)

	list := r.ListByWorkspace("w1")
	if len(list) != 2 {
		t.Fatalf("w1 list length = %d, want 2", len(list))
	}
	if list[0].Identity != "alice" || list[1].Identity != "bob" {
		t.Errorf("w1 list = %+v, want alice then bob", list)
	}
	if r.Count("w2") != 1 {
		t.Errorf("w2 count = %d, want 1", r.Count("w2"))
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}

func TestRegisterDuplicateIdentityEvictsOlder(t *testing.T) {
	r := New()
	r.Register("c1", "alice", "w1", t0)

	evicted := r.Register("c2", "alice", "w1", t0.Add(time.Second))
	if len(evicted) != 1 || evicted[0].ConnectionID != "c1" {
		t.Fatalf("evicted = %+v, want c1", evicted)
	}

	list := r.ListByWorkspace("w1")
	if len(list) != 1 || list[0].ConnectionID != "c2" {
		t.Errorf("list after reclaim = %+v, want only c2", list)
	}
	if _, ok := r.Lookup("c1"); ok {
		t.Error("c1 should no longer be registered")
	}
}

func TestSameIdentityDifferentWorkspacesCoexist(t *testing.T) {
	r := New()
	r.Register("c1", "alice", "w1", t0)
	if evicted := r.Register("c2", "alice", "w2", t0); len(evicted) != 0 {
		t.Errorf("cross-workspace register evicted %+v", evicted)
	}
	if r.Count("w1") != 1 || r.Count("w2") != 1 {
		t.Errorf("counts w1=%d w2=%d, want 1 and 1", r.Count("w1"), r.Count("w2"))
	}
}

func TestReregisterSameBindingIsNoop(t *testing.T) {
	r := New()
	r.Register("c1", "alice", "w1", t0)
	if evicted := r.Register("c1", "alice", "w1", t0.Add(time.Minute)); evicted != nil {
		t.Errorf("re-register evicted %+v", evicted)
	}
	e, _ := r.Lookup("c1")
	if !e.JoinedAt.Equal(t0) {
		t.Errorf("JoinedAt changed to %v", e.JoinedAt)
	}
}

func TestRegisterRebindsConnection(t *testing.T) {
	r := New()
	r.Register("c1", "alice", "w1", t0)
	r.Register("c1", "alice2", "w2", t0)

	if r.Count("w1") != 0 {
		t.Errorf("w1 count = %d, want 0", r.Count("w1"))
	}
	e, ok := r.Lookup("c1")
	if !ok || e.Identity != "alice2" || e.WorkspaceID != "w2" {
		t.Errorf("Lookup(c1) = %+v, %v", e, ok)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New()
	r.Register("c1", "alice", "w1", t0)

	e, ok := r.Unregister("c1")
	if !ok || e.Identity != "alice" || e.WorkspaceID != "w1" {
		t.Fatalf("first Unregister = %+v, %v", e, ok)
	}
	if _, ok := r.Unregister("c1"); ok {
		t.Error("second Unregister should report false")
	}
	if _, ok := r.Unregister("never"); ok {
		t.Error("Unregister of unknown connection should report false")
	}
}

func TestEvictedConnectionUnregisterDoesNotTouchNewHolder(t *testing.T) {
	r := New()
	r.Register("c1", "alice", "w1", t0)
	r.Register("c2", "alice", "w1", t0)

	// The evicted connection's own cleanup runs later.
	if _, ok := r.Unregister("c1"); ok {
		t.Error("evicted connection should already be gone")
	}
	if got := r.ListByWorkspace("w1"); len(got) != 1 || got[0].ConnectionID != "c2" {
		t.Errorf("list = %+v, want c2", got)
	}
}

func TestPresenceCountAfterDisconnects(t *testing.T) {
	r := New()
	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		r.Register("c-"+id, id, "w", t0.Add(time.Duration(i)*time.Second))
	}
	r.Unregister("c-b")
	r.Unregister("c-d")

	got := r.ListByWorkspace("w")
	if len(got) != len(ids)-2 {
		t.Fatalf("count = %d, want %d", len(got), len(ids)-2)
	}
	for _, e := range got {
		if e.Identity == "b" || e.Identity == "d" {
			t.Errorf("disconnected identity %q still listed", e.Identity)
		}
	}
}

func TestWorkspacesDropsEmpty(t *testing.T) {
	r := New()
	r.Register("c1", "alice", "w2", t0)
	r.Register("c2", "bob", "w1", t0)
	r.Unregister("c1")

	got := r.Workspaces()
	if len(got) != 1 || got[0] != "w1" {
		t.Errorf("Workspaces = %v, want [w1]", got)
	}
}
