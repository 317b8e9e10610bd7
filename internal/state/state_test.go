package state

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cortexuvula/collabrelay/internal/workbook"
)

func TestDocumentLoadLifecycle(t *testing.T) {
	var d Document
	if d.Status() != Empty {
		t.Fatalf("status = %v, want empty", d.Status())
	}
	if !d.BeginLoad() {
		t.Fatal("BeginLoad from empty should succeed")
	}
	if d.BeginLoad() {
		t.Error("second BeginLoad should report false")
	}
	d.Wait("c1")
	d.Wait("c2")
	d.Wait("c1")
	d.Forget("c2")

	waiters, ok := d.CompleteLoad(&Loaded{Data: json.RawMessage(`"stored"`), Meta: Meta{Version: 7}})
	if !ok {
		t.Fatal("CompleteLoad should succeed while loading")
	}
	if len(waiters) != 1 || waiters[0] != "c1" {
		t.Errorf("waiters = %v, want [c1]", waiters)
	}
	content, meta := d.Content()
	if content != "stored" || meta.Version != 7 {
		t.Errorf("content = %q version %d", content, meta.Version)
	}
}

func TestDocumentWriteDuringLoadWins(t *testing.T) {
	var d Document
	d.BeginLoad()
	d.Wait("c1")

	waiters := d.Set("fresh", "alice", 100)
	if len(waiters) != 1 {
		t.Errorf("waiters = %v, want [c1]", waiters)
	}
	if _, ok := d.CompleteLoad(&Loaded{Data: json.RawMessage(`"stale"`)}); ok {
		t.Error("late load should be discarded")
	}
	content, meta := d.Content()
	if content != "fresh" || meta.Version != 1 || meta.LastModifiedBy != "alice" {
		t.Errorf("content = %q meta = %+v", content, meta)
	}
}

func TestDocumentVersionIncrements(t *testing.T) {
	var d Document
	d.Set("a", "x", 1)
	d.Set("b", "y", 2)
	d.Set("c", "x", 3)
	content, meta := d.Content()
	if content != "c" || meta.Version != 3 {
		t.Errorf("content = %q version = %d, want c 3", content, meta.Version)
	}
	rec := d.Record()
	if string(rec.Data) != `"c"` {
		t.Errorf("record data = %s", rec.Data)
	}
}

func TestSpreadsheetBootstrapPrecedence(t *testing.T) {
	stored := &Loaded{Data: json.RawMessage(`{"id":"stored","sheets":{}}`), Meta: Meta{Version: 4}}
	seed := json.RawMessage(`{"id":"seed","sheets":{}}`)

	tests := []struct {
		name   string
		rec    *Loaded
		seeds  []json.RawMessage
		want   Source
		wantID string
	}{
		{"stored wins", stored, []json.RawMessage{seed}, SourceStored, "stored"},
		{"first seed", nil, []json.RawMessage{nil, seed, json.RawMessage(`{"id":"later"}`)}, SourceClient, "seed"},
		{"corrupt stored falls back to seed", &Loaded{Data: json.RawMessage(`[1]`)}, []json.RawMessage{seed}, SourceClient, "seed"},
		{"default", nil, []json.RawMessage{nil}, SourceDefault, "w1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSpreadsheet("w1")
			s.BeginLoad()
			for i, sd := range tt.seeds {
				s.Wait(string(rune('a'+i)), sd)
			}
			b, ok := s.CompleteLoad(tt.rec)
			if !ok {
				t.Fatal("CompleteLoad failed")
			}
			if b.Source != tt.want {
				t.Errorf("source = %v, want %v", b.Source, tt.want)
			}
			if len(b.Waiters) != len(tt.seeds) {
				t.Errorf("waiters = %v", b.Waiters)
			}
			data, _ := s.Snapshot()
			var got struct{ ID string }
			json.Unmarshal(data, &got)
			if got.ID != tt.wantID {
				t.Errorf("snapshot id = %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

func TestSpreadsheetBufferedCellsApplyInOrder(t *testing.T) {
	s := NewSpreadsheet("w1")
	s.BeginLoad()

	if _, applied, _ := s.ApplyCell("", 1, 1, json.RawMessage(`"first"`), "a", 1); applied {
		t.Error("cell change before bootstrap should be buffered")
	}
	s.ApplyCell("", 1, 1, json.RawMessage(`"second"`), "b", 2)
	s.ApplyCell("", 2, 2, json.RawMessage(`3`), "a", 3)

	b, _ := s.CompleteLoad(nil)
	if b.Patched != 3 || !b.Dirty {
		t.Errorf("bootstrap = %+v, want 3 patches and dirty", b)
	}
	if s.Meta().Version != 3 {
		t.Errorf("version = %d, want 3", s.Meta().Version)
	}
	wb, _ := workbook.Parse(s.Record().Data)
	if v, _ := wb.Cell(workbook.DefaultSheetID, 1, 1); v != "second" {
		t.Errorf("cell (1,1) = %v, want second", v)
	}
}

// A joiner after N cell changes sees the last value written to each cell.
func TestSpreadsheetBootstrapCorrectness(t *testing.T) {
	s := NewSpreadsheet("w1")
	s.BeginLoad()
	s.CompleteLoad(nil)

	writes := []struct {
		row, col int
		value    string
	}{
		{0, 0, `"a"`}, {0, 1, `"b"`}, {0, 0, `"c"`}, {3, 4, `10`}, {0, 1, `null`}, {3, 4, `11`},
	}
	for i, w := range writes {
		if _, applied, err := s.ApplyCell("", w.row, w.col, json.RawMessage(w.value), "u", int64(i)); !applied || err != nil {
			t.Fatalf("write %d: applied=%v err=%v", i, applied, err)
		}
	}

	data, meta := s.Snapshot()
	if meta.Version != int64(len(writes)) {
		t.Errorf("version = %d, want %d", meta.Version, len(writes))
	}
	wb, err := workbook.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := wb.Cell(workbook.DefaultSheetID, 0, 0); v != "c" {
		t.Errorf("(0,0) = %v, want c", v)
	}
	if _, ok := wb.Cell(workbook.DefaultSheetID, 0, 1); ok {
		t.Error("(0,1) should be cleared")
	}
	if v, _ := wb.Cell(workbook.DefaultSheetID, 3, 4); v != json.Number("11") {
		t.Errorf("(3,4) = %v, want 11", v)
	}
}

func TestSpreadsheetCheckpointDuringLoad(t *testing.T) {
	s := NewSpreadsheet("w1")
	s.BeginLoad()
	s.Wait("c1", nil)
	s.WaitInitial("g1")
	s.ApplyCell("", 0, 0, json.RawMessage(`"buffered"`), "a", 1)

	waiters, initial, err := s.Checkpoint(json.RawMessage(`{"id":"cp","sheets":{}}`), "b", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiters) != 1 || waiters[0] != "c1" {
		t.Errorf("waiters = %v", waiters)
	}
	if len(initial) != 1 || initial[0] != "g1" {
		t.Errorf("initial waiters = %v", initial)
	}
	if _, ok := s.CompleteLoad(&Loaded{Data: json.RawMessage(`{"id":"stale"}`)}); ok {
		t.Error("late load should be discarded")
	}
	data, _ := s.Snapshot()
	var got struct{ ID string }
	json.Unmarshal(data, &got)
	if got.ID != "cp" {
		t.Errorf("snapshot id = %q, want cp", got.ID)
	}
}

func TestSpreadsheetInitialWaiters(t *testing.T) {
	s := NewSpreadsheet("w1")
	s.BeginLoad()
	s.Wait("joiner", nil)
	s.WaitInitial("getter")
	s.WaitInitial("getter")
	s.WaitInitial("gone")
	s.Forget("gone")

	b, ok := s.CompleteLoad(nil)
	if !ok {
		t.Fatal("load not applied")
	}
	if len(b.Waiters) != 1 || b.Waiters[0] != "joiner" {
		t.Errorf("snapshot waiters = %v, want [joiner]", b.Waiters)
	}
	if len(b.Initial) != 1 || b.Initial[0] != "getter" {
		t.Errorf("initial waiters = %v, want [getter]", b.Initial)
	}
}

func TestSpreadsheetCheckpointRejectsNonObject(t *testing.T) {
	s := NewSpreadsheet("w1")
	if _, _, err := s.Checkpoint(json.RawMessage(`[]`), "a", 1); err == nil {
		t.Error("array checkpoint should fail")
	}
	if s.Status() != Empty {
		t.Errorf("status = %v, want empty", s.Status())
	}
}

func TestSpreadsheetVersionedUpdate(t *testing.T) {
	s := NewSpreadsheet("w1")
	if err := s.Update(1, json.RawMessage(`{}`), "a", 1); !errors.Is(err, ErrNotReady) {
		t.Errorf("update before bootstrap err = %v, want ErrNotReady", err)
	}
	s.BeginLoad()
	s.CompleteLoad(&Loaded{Data: json.RawMessage(`{"id":"x"}`), Meta: Meta{Version: 5}})

	for _, v := range []int64{5, 7, 0} {
		err := s.Update(v, json.RawMessage(`{"id":"y"}`), "a", 1)
		var vm *VersionMismatch
		if !errors.As(err, &vm) {
			t.Fatalf("Update(%d) err = %v, want mismatch", v, err)
		}
		if vm.Current != 5 || vm.Received != v {
			t.Errorf("mismatch = %+v", vm)
		}
	}
	if s.Meta().Version != 5 {
		t.Errorf("rejected updates changed version to %d", s.Meta().Version)
	}

	if err := s.Update(6, json.RawMessage(`{"id":"y"}`), "bob", 99); err != nil {
		t.Fatalf("Update(6) = %v", err)
	}
	meta := s.Meta()
	if meta.Version != 6 || meta.LastModifiedBy != "bob" || meta.LastModified != 99 {
		t.Errorf("meta = %+v", meta)
	}
}
