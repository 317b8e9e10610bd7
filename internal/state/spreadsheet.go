package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cortexuvula/collabrelay/internal/workbook"
)

// ErrNotReady is returned by Update before the spreadsheet is bootstrapped.
var ErrNotReady = errors.New("spreadsheet not loaded")

// VersionMismatch is returned by Update when the client's version is not
// exactly one ahead of the stored version.
type VersionMismatch struct {
	Current  int64
	Received int64
}

func (e *VersionMismatch) Error() string {
	return fmt.Sprintf("version mismatch: current %d, received %d", e.Current, e.Received)
}

// Source says where a bootstrapped spreadsheet came from.
type Source int

const (
	SourceStored Source = iota
	SourceClient
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceStored:
		return "stored"
	case SourceClient:
		return "client"
	default:
		return "default"
	}
}

// Bootstrap describes the outcome of CompleteLoad.
type Bootstrap struct {
	// Waiters joined the surface and expect spreadsheet-snapshot.
	Waiters []string
	// Initial asked for the versioned copy and expect spreadsheet-initial.
	Initial []string
	Source  Source
	// Patched counts buffered cell changes applied on top of the snapshot.
	Patched int
	// Dirty is set when the in-memory snapshot differs from what storage
	// returned and should be saved.
	Dirty bool
}

type pendingCell struct {
	sheetID  string
	row      int
	column   int
	value    json.RawMessage
	identity string
	nowMs    int64
}

// Spreadsheet is the workbook surface. It is patched cell by cell, replaced
// wholesale by checkpoints, and replaced under optimistic versioning by
// Update.
type Spreadsheet struct {
	id      string
	status  Status
	wb      *workbook.Workbook
	meta    Meta
	waiters waitList
	initial waitList
	seeds   map[string]json.RawMessage
	pending []pendingCell
}

// NewSpreadsheet returns an EMPTY spreadsheet for a workspace. The id
// names the default workbook when one has to be created.
func NewSpreadsheet(workspaceID string) *Spreadsheet {
	return &Spreadsheet{id: workspaceID}
}

// Status reports the lifecycle stage.
func (s *Spreadsheet) Status() Status { return s.status }

// Meta returns the version bookkeeping.
func (s *Spreadsheet) Meta() Meta { return s.meta }

// Snapshot returns the current workbook and its bookkeeping. It is only
// meaningful once bootstrapped.
func (s *Spreadsheet) Snapshot() (json.RawMessage, Meta) {
	if s.wb == nil {
		return nil, s.meta
	}
	return s.wb.Bytes(), s.meta
}

// BeginLoad moves an EMPTY spreadsheet to LOADING.
func (s *Spreadsheet) BeginLoad() bool {
	if s.status != Empty {
		return false
	}
	s.status = Loading
	return true
}

// Wait queues connID for the bootstrap snapshot. A non-empty seed is the
// client's own copy, used when storage has nothing.
func (s *Spreadsheet) Wait(connID string, seed json.RawMessage) {
	s.waiters.add(connID)
	if len(seed) > 0 {
		if s.seeds == nil {
			s.seeds = make(map[string]json.RawMessage)
		}
		if _, ok := s.seeds[connID]; !ok {
			s.seeds[connID] = seed
		}
	}
}

// WaitInitial queues connID for the versioned copy handed out once the
// spreadsheet is bootstrapped.
func (s *Spreadsheet) WaitInitial(connID string) {
	s.initial.add(connID)
}

// Forget removes connID from both wait queues.
func (s *Spreadsheet) Forget(connID string) {
	s.waiters.remove(connID)
	s.initial.remove(connID)
	delete(s.seeds, connID)
}

// CompleteLoad bootstraps a LOADING spreadsheet. Precedence: the stored
// record, then the first queued joiner's seed, then the default workbook.
// Cell changes buffered during the load are then applied in arrival order.
// ok is false when a direct write already bootstrapped the spreadsheet.
func (s *Spreadsheet) CompleteLoad(rec *Loaded) (Bootstrap, bool) {
	if s.status != Loading {
		return Bootstrap{}, false
	}
	var b Bootstrap
	b.Source = SourceDefault

	if rec != nil {
		if wb, err := workbook.Parse(rec.Data); err == nil {
			s.wb = wb
			s.meta = rec.Meta
			b.Source = SourceStored
		}
	}
	if s.wb == nil {
		for _, connID := range s.waiters {
			seed, ok := s.seeds[connID]
			if !ok {
				continue
			}
			if wb, err := workbook.Parse(seed); err == nil {
				s.wb = wb
				b.Source = SourceClient
				break
			}
		}
	}
	if s.wb == nil {
		s.wb = workbook.Default(s.id)
	}
	s.status = Bootstrapped

	for _, p := range s.pending {
		if _, err := s.wb.SetCell(p.sheetID, p.row, p.column, p.value); err == nil {
			s.meta.touch(p.identity, p.nowMs)
			b.Patched++
		}
	}
	s.pending = nil
	s.seeds = nil

	b.Waiters = s.waiters.drain()
	b.Initial = s.initial.drain()
	b.Dirty = b.Source == SourceClient || b.Patched > 0
	return b, true
}

// ApplyCell merges one cell into the workbook and returns the sheet it
// landed on. Before bootstrap the change is buffered and applied reports
// false.
func (s *Spreadsheet) ApplyCell(sheetID string, row, column int, value json.RawMessage, identity string, nowMs int64) (sheet string, applied bool, err error) {
	if s.status != Bootstrapped {
		s.pending = append(s.pending, pendingCell{
			sheetID: sheetID, row: row, column: column,
			value: value, identity: identity, nowMs: nowMs,
		})
		return sheetID, false, nil
	}
	sheet, err = s.wb.SetCell(sheetID, row, column, value)
	if err != nil {
		return "", false, err
	}
	s.meta.touch(identity, nowMs)
	return sheet, true, nil
}

// Checkpoint replaces the workbook outright. It bootstraps an EMPTY or
// LOADING spreadsheet, dropping buffered cell changes, and returns the
// connections waiting for a snapshot and for the versioned copy.
func (s *Spreadsheet) Checkpoint(data json.RawMessage, identity string, nowMs int64) (waiters, initial []string, err error) {
	wb, err := workbook.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	s.wb = wb
	s.meta.touch(identity, nowMs)
	s.status = Bootstrapped
	s.pending = nil
	s.seeds = nil
	return s.waiters.drain(), s.initial.drain(), nil
}

// Update replaces the workbook when version is exactly one ahead of the
// current version. It returns ErrNotReady before bootstrap and a
// *VersionMismatch otherwise; neither mutates state.
func (s *Spreadsheet) Update(version int64, data json.RawMessage, identity string, nowMs int64) error {
	if s.status != Bootstrapped {
		return ErrNotReady
	}
	if version != s.meta.Version+1 {
		return &VersionMismatch{Current: s.meta.Version, Received: version}
	}
	wb, err := workbook.Parse(data)
	if err != nil {
		return err
	}
	s.wb = wb
	s.meta = Meta{Version: version, LastModified: nowMs, LastModifiedBy: identity}
	return nil
}

// Record encodes the spreadsheet for durable storage.
func (s *Spreadsheet) Record() Loaded {
	data, meta := s.Snapshot()
	return Loaded{Data: data, Meta: meta}
}
