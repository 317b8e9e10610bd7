// Package cursor keeps the latest spreadsheet cell selection of every
// connection, per workspace.
package cursor

import (
	"sort"

	"github.com/cortexuvula/collabrelay/internal/protocol"
)

// Tracker holds at most one cursor per connection per workspace. Like the
// registry it is owned by the relay loop and is not safe for concurrent use.
type Tracker struct {
	workspaces map[string]map[string]protocol.Cursor
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{workspaces: make(map[string]map[string]protocol.Cursor)}
}

// Select records c as the cursor of c.ConnectionID in workspaceID,
// replacing any earlier entry.
func (t *Tracker) Select(workspaceID string, c protocol.Cursor) {
	cursors := t.workspaces[workspaceID]
	if cursors == nil {
		cursors = make(map[string]protocol.Cursor)
		t.workspaces[workspaceID] = cursors
	}
	cursors[c.ConnectionID] = c
}

// Remove deletes the cursor of connectionID in workspaceID. It reports
// whether an entry existed, so callers broadcast cursor-removed at most
// once per removal.
func (t *Tracker) Remove(workspaceID, connectionID string) bool {
	cursors := t.workspaces[workspaceID]
	if _, ok := cursors[connectionID]; !ok {
		return false
	}
	delete(cursors, connectionID)
	if len(cursors) == 0 {
		delete(t.workspaces, workspaceID)
	}
	return true
}

// Get returns the cursor of connectionID in workspaceID.
func (t *Tracker) Get(workspaceID, connectionID string) (protocol.Cursor, bool) {
	c, ok := t.workspaces[workspaceID][connectionID]
	return c, ok
}

// List returns every cursor in workspaceID ordered by connection id.
func (t *Tracker) List(workspaceID string) []protocol.Cursor {
	cursors := t.workspaces[workspaceID]
	out := make([]protocol.Cursor, 0, len(cursors))
	for _, c := range cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Drop forgets every cursor of a workspace.
func (t *Tracker) Drop(workspaceID string) {
	delete(t.workspaces, workspaceID)
}

// Len returns the number of cursors held in workspaceID.
func (t *Tracker) Len(workspaceID string) int {
	return len(t.workspaces[workspaceID])
}
