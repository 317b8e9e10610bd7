package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cortexuvula/collabrelay/internal/protocol"
	"github.com/cortexuvula/collabrelay/internal/room"
	"github.com/cortexuvula/collabrelay/internal/state"
)

// StatusView summarizes the hub.
type StatusView struct {
	Sessions     int       `json:"sessions"`
	Registered   int       `json:"registered"`
	Rooms        int       `json:"rooms"`
	PendingSaves int       `json:"pendingSaves"`
	StartedAt    time.Time `json:"startedAt"`
}

// WorkspaceView summarizes one room.
type WorkspaceView struct {
	ID                 string      `json:"id"`
	Counts             room.Counts `json:"counts"`
	Document           string      `json:"document"`
	DocumentVersion    int64       `json:"documentVersion"`
	Spreadsheet        string      `json:"spreadsheet"`
	SpreadsheetVersion int64       `json:"spreadsheetVersion"`
	Cursors            int         `json:"cursors"`
	DrawingReplay      int         `json:"drawingReplay"`
	CreatedAt          time.Time   `json:"createdAt"`
	LastActive         time.Time   `json:"lastActive"`
}

// DocumentView is the document surface of a room.
type DocumentView struct {
	Status  string `json:"status"`
	Content string `json:"content"`
	state.Meta
}

// SpreadsheetView is the spreadsheet surface of a room.
type SpreadsheetView struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	state.Meta
}

// lookup is a per-workspace view plus whether the workspace has a room.
type lookup[T any] struct {
	v     T
	found bool
}

// Status returns hub totals.
func (h *Hub) Status(ctx context.Context) (StatusView, error) {
	return ask(ctx, h, func() StatusView {
		v := StatusView{
			Sessions:   len(h.conns),
			Registered: h.registry.Len(),
			Rooms:      h.rooms.Len(),
			StartedAt:  h.startedAt,
		}
		if h.opts.Writer != nil {
			v.PendingSaves = h.opts.Writer.Pending()
		}
		return v
	})
}

// Workspaces lists every room held in memory.
func (h *Hub) Workspaces(ctx context.Context) ([]WorkspaceView, error) {
	return ask(ctx, h, func() []WorkspaceView {
		out := make([]WorkspaceView, 0, h.rooms.Len())
		for _, id := range h.rooms.IDs() {
			r, _ := h.rooms.Get(id)
			out = append(out, h.workspaceView(r))
		}
		return out
	})
}

func (h *Hub) workspaceView(r *room.Room) WorkspaceView {
	_, docMeta := r.Document.Content()
	return WorkspaceView{
		ID:                 r.ID,
		Counts:             r.Counts(),
		Document:           r.Document.Status().String(),
		DocumentVersion:    docMeta.Version,
		Spreadsheet:        r.Spreadsheet.Status().String(),
		SpreadsheetVersion: r.Spreadsheet.Meta().Version,
		Cursors:            h.cursors.Len(r.ID),
		DrawingReplay:      r.Drawing.Len(),
		CreatedAt:          r.CreatedAt(),
		LastActive:         r.LastActive(),
	}
}

// inRoom runs view on the room of ws. found is false for a workspace
// without a room.
func inRoom[T any](ctx context.Context, h *Hub, ws string, view func(*room.Room) T) (T, bool, error) {
	res, err := ask(ctx, h, func() lookup[T] {
		r, ok := h.rooms.Get(ws)
		if !ok {
			return lookup[T]{}
		}
		return lookup[T]{v: view(r), found: true}
	})
	return res.v, res.found, err
}

// Participants returns the presence list of a workspace.
func (h *Hub) Participants(ctx context.Context, ws string) ([]protocol.Participant, bool, error) {
	return inRoom(ctx, h, ws, func(r *room.Room) []protocol.Participant {
		return r.Participants()
	})
}

// Cursors returns the cursor entries of a workspace.
func (h *Hub) Cursors(ctx context.Context, ws string) ([]protocol.Cursor, bool, error) {
	return inRoom(ctx, h, ws, func(r *room.Room) []protocol.Cursor {
		return h.cursors.List(r.ID)
	})
}

// Document returns the document surface of a workspace.
func (h *Hub) Document(ctx context.Context, ws string) (DocumentView, bool, error) {
	return inRoom(ctx, h, ws, func(r *room.Room) DocumentView {
		content, meta := r.Document.Content()
		return DocumentView{Status: r.Document.Status().String(), Content: content, Meta: meta}
	})
}

// Spreadsheet returns the spreadsheet surface of a workspace.
func (h *Hub) Spreadsheet(ctx context.Context, ws string) (SpreadsheetView, bool, error) {
	return inRoom(ctx, h, ws, func(r *room.Room) SpreadsheetView {
		data, meta := r.Spreadsheet.Snapshot()
		return SpreadsheetView{Status: r.Spreadsheet.Status().String(), Data: data, Meta: meta}
	})
}
