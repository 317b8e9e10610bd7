package room

import (
	"testing"
	"time"

	"github.com/cortexuvula/collabrelay/internal/state"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParticipantsCollapseByIdentity(t *testing.T) {
	r := newRoom("w", 0, t0)
	r.Join("c1", "alice")
	r.Join("c2", "bob")
	r.Join("c3", "alice") // reclaim not yet cleaned up

	got := r.Participants()
	if len(got) != 2 {
		t.Fatalf("participants = %+v, want 2 entries", got)
	}
	if got[0].Identity != "bob" || got[1].Identity != "alice" || got[1].ConnectionID != "c3" {
		t.Errorf("participants = %+v, want bob then alice@c3", got)
	}
	if !r.HasIdentity("alice", "c3") {
		t.Error("alice should still be held by c1")
	}
}

func TestDropRemovesEverywhere(t *testing.T) {
	r := newRoom("w", 0, t0)
	r.Join("c1", "alice")
	r.Subscribe(Drawing, "c1")
	r.Subscribe(Spreadsheet, "c1")
	r.Subscribe(Spreadsheet, "c2")

	identity, ok := r.Drop("c1")
	if !ok || identity != "alice" {
		t.Errorf("Drop = %q, %v", identity, ok)
	}
	if r.Subscribed(Drawing, "c1") || r.Subscribed(Spreadsheet, "c1") {
		t.Error("c1 still subscribed after Drop")
	}
	if got := r.Subscribers(Spreadsheet); len(got) != 1 || got[0] != "c2" {
		t.Errorf("spreadsheet subscribers = %v", got)
	}
	if _, ok := r.Drop("c1"); ok {
		t.Error("second Drop should report false")
	}
}

func TestVacantAndCounts(t *testing.T) {
	r := newRoom("w", 0, t0)
	if !r.Vacant() {
		t.Error("new room should be vacant")
	}
	r.Subscribe(Document, "c1")
	if r.Vacant() {
		t.Error("room with a subscriber is not vacant")
	}
	c := r.Counts()
	if c.Document != 1 || c.Members != 0 {
		t.Errorf("counts = %+v", c)
	}
}

func TestManagerEnsureIsLazyAndStable(t *testing.T) {
	m := NewManager(0)
	if _, ok := m.Get("w"); ok {
		t.Error("room should not exist before Ensure")
	}
	a := m.Ensure("w", t0)
	b := m.Ensure("w", t0.Add(time.Hour))
	if a != b {
		t.Error("Ensure should return the same room")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestManagerSweep(t *testing.T) {
	m := NewManager(0)
	m.Ensure("idle", t0)
	busy := m.Ensure("busy", t0)
	busy.Join("c1", "alice")
	loading := m.Ensure("loading", t0)
	loading.Spreadsheet.BeginLoad()
	fresh := m.Ensure("fresh", t0)
	fresh.Touch(t0.Add(50 * time.Minute))

	if got := m.Sweep(t0.Add(time.Hour), 0); got != nil {
		t.Errorf("disabled sweep evicted %v", got)
	}

	got := m.Sweep(t0.Add(time.Hour), 30*time.Minute)
	if len(got) != 1 || got[0] != "idle" {
		t.Errorf("evicted = %v, want [idle]", got)
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d, want 3", m.Len())
	}
	if loading.Spreadsheet.Status() != state.Loading {
		t.Error("loading room should be untouched")
	}
}
