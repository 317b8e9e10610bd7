package relay

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/cortexuvula/collabrelay/internal/protocol"
	"github.com/cortexuvula/collabrelay/internal/room"
	"github.com/cortexuvula/collabrelay/internal/state"
	"github.com/cortexuvula/collabrelay/internal/store"
)

var nullValue = json.RawMessage("null")

func (h *Hub) handleJoin(c *Conn, env protocol.Envelope) error {
	var req protocol.JoinRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	ws := h.workspaceOr(req.WorkspaceID)

	// A repeated join only re-sends the presence list.
	if prev, ok := h.registry.Lookup(c.ID); ok && prev.WorkspaceID == ws && prev.Identity == req.Identity {
		if r, ok := h.rooms.Get(ws); ok {
			h.send(c, h.encode(protocol.EventParticipantsList, r.Participants()))
		}
		return nil
	}

	r := h.bind(c, ws)
	if old, ok := r.Leave(c.ID); ok && old != req.Identity && !r.HasIdentity(old, "") {
		h.broadcast(r.MemberIDs(), c.ID, h.encode(protocol.EventParticipantLeft, protocol.ParticipantEvent{Identity: old}))
	}
	c.identity = req.Identity

	for _, e := range h.registry.Register(c.ID, req.Identity, ws, h.opts.Now()) {
		if prev := h.conns[e.ConnectionID]; prev != nil {
			h.evict(prev, websocket.StatusPolicyViolation, "identity claimed by another session", "identity", false)
		}
	}
	r.Join(c.ID, req.Identity)

	h.relay(r, 0, Presence, c, h.encode(protocol.EventParticipantJoined, protocol.ParticipantEvent{Identity: req.Identity}))
	h.broadcastParticipants(r)
	slog.Info("participant joined", "workspace", ws, "identity", req.Identity, "conn", c.ID)
	return nil
}

func (h *Hub) handleMessage(c *Conn, env protocol.Envelope) error {
	var req protocol.ChatRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	if !r.IsMember(c.ID) {
		return errNotMember
	}
	now := h.opts.Now()
	msg := protocol.ChatMessage{
		ID:        h.nextMessageID(now),
		Identity:  identityOf(c, req.Identity),
		Text:      req.Text,
		Timestamp: now.UnixMilli(),
	}
	h.relay(r, 0, FanOutAll, c, h.encode(protocol.EventMessage, msg))
	return nil
}

func (h *Hub) handleJoinDrawing(c *Conn, env protocol.Envelope) error {
	var req protocol.JoinRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r := h.bind(c, h.workspaceOr(req.WorkspaceID))
	if c.identity == "" {
		c.identity = req.Identity
	}
	r.Subscribe(room.Drawing, c.ID)
	for _, frame := range r.Drawing.Frames() {
		h.send(c, frame)
	}
	slog.Debug("joined drawing", "workspace", r.ID, "conn", c.ID, "replayed", r.Drawing.Len())
	return nil
}

func (h *Hub) handleDrawing(c *Conn, env protocol.Envelope) error {
	var req protocol.DrawingRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	frame := h.encode(protocol.EventDrawingUpdate, req.Data)
	r.Drawing.Record(req.Data.Type, frame, h.opts.Now())
	h.relay(r, room.Drawing, RelayOthers, c, frame)
	return nil
}

func (h *Hub) handleJoinDocument(c *Conn, env protocol.Envelope) error {
	var req protocol.JoinRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r := h.bind(c, h.workspaceOr(req.WorkspaceID))
	if c.identity == "" {
		c.identity = req.Identity
	}
	r.Subscribe(room.Document, c.ID)

	if r.Document.Status() == state.Bootstrapped {
		h.sendDocument(c, r)
		return nil
	}
	r.Document.Wait(c.ID)
	if r.Document.BeginLoad() {
		h.startLoad(r.ID, store.Document)
	}
	return nil
}

func (h *Hub) handleDocumentChange(c *Conn, env protocol.Envelope) error {
	var req protocol.DocumentChangeRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	// Waiters are document subscribers, so the broadcast below reaches them.
	r.Document.Set(*req.Content, identityOf(c, ""), h.opts.Now().UnixMilli())
	content, meta := r.Document.Content()
	h.relay(r, room.Document, LastWriterWins, c, h.encode(protocol.EventDocumentUpdate, protocol.DocumentUpdate{
		Content: content,
		Version: meta.Version,
	}))
	h.schedule(store.Document, r.ID, r.Document.Record())
	return nil
}

func (h *Hub) handleJoinSpreadsheet(c *Conn, env protocol.Envelope) error {
	var req protocol.JoinSpreadsheetRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r := h.bind(c, h.workspaceOr(req.WorkspaceID))
	if c.identity == "" {
		c.identity = req.Identity
	}
	r.Subscribe(room.Spreadsheet, c.ID)

	if r.Spreadsheet.Status() == state.Bootstrapped {
		h.sendSnapshot(c, r, protocol.EventSpreadsheetSnapshot)
	} else {
		var seed json.RawMessage
		if protocol.IsJSONObject(req.Snapshot) {
			seed = req.Snapshot
		}
		r.Spreadsheet.Wait(c.ID, seed)
		if r.Spreadsheet.BeginLoad() {
			h.startLoad(r.ID, store.Spreadsheet)
		}
	}
	h.send(c, h.encode(protocol.EventSpreadsheetCursors, h.cursors.List(r.ID)))
	return nil
}

func (h *Hub) handleCellChange(c *Conn, env protocol.Envelope) error {
	var req protocol.CellChangeRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	value := req.Value
	if len(value) == 0 {
		value = nullValue
	}
	identity := identityOf(c, req.Identity)
	wasEmpty := r.Spreadsheet.Status() == state.Empty

	sheet, applied, err := r.Spreadsheet.ApplyCell(req.SheetID, *req.Row, *req.Column, value, identity, h.opts.Now().UnixMilli())
	if err != nil {
		return err
	}
	h.relay(r, room.Spreadsheet, CellPatch, c, h.encode(protocol.EventCellChanged, protocol.CellChanged{
		Row:      *req.Row,
		Column:   *req.Column,
		Value:    value,
		Identity: identity,
		SheetID:  sheet,
	}))

	switch {
	case applied:
		h.schedule(store.Spreadsheet, r.ID, r.Spreadsheet.Record())
	case wasEmpty && r.Spreadsheet.BeginLoad():
		h.startLoad(r.ID, store.Spreadsheet)
	}
	return nil
}

func (h *Hub) handleSpreadsheetOp(c *Conn, env protocol.Envelope) error {
	var req protocol.SpreadsheetOpRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	h.relay(r, room.Spreadsheet, RelayOthers, c, h.encode(protocol.EventSpreadsheetOp, protocol.SpreadsheetOps{Ops: req.Ops}))
	return nil
}

func (h *Hub) handleCheckpoint(c *Conn, env protocol.Envelope) error {
	var req protocol.CheckpointRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	waiters, initial, err := r.Spreadsheet.Checkpoint(req.Data, identityOf(c, ""), h.opts.Now().UnixMilli())
	if err != nil {
		return err
	}
	for _, id := range waiters {
		h.sendSnapshot(h.conns[id], r, protocol.EventSpreadsheetSnapshot)
	}
	for _, id := range initial {
		h.sendSnapshot(h.conns[id], r, protocol.EventSpreadsheetInitial)
	}
	h.schedule(store.Spreadsheet, r.ID, r.Spreadsheet.Record())
	slog.Debug("spreadsheet checkpoint", "workspace", r.ID, "conn", c.ID, "version", r.Spreadsheet.Meta().Version)
	return nil
}

func (h *Hub) handleCellSelect(c *Conn, env protocol.Envelope) error {
	var req protocol.CellSelectRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	cur := protocol.Cursor{
		ConnectionID: c.ID,
		Identity:     identityOf(c, req.Identity),
		Row:          *req.Row,
		Column:       *req.Column,
		SheetIndex:   req.SheetIndex,
		Color:        req.Color,
		Timestamp:    h.opts.Now().UnixMilli(),
	}
	h.cursors.Select(r.ID, cur)
	h.relay(r, room.Spreadsheet, CursorSync, c, h.encode(protocol.EventCursorUpdate, cur))
	return nil
}

func (h *Hub) handleCellDeselect(c *Conn, env protocol.Envelope) error {
	var req protocol.WorkspaceRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	if h.cursors.Remove(r.ID, c.ID) {
		h.relay(r, room.Spreadsheet, CursorSync, c, h.encode(protocol.EventCursorRemoved, protocol.CursorRemoved{ConnectionID: c.ID}))
	}
	return nil
}

func (h *Hub) handleGetUsers(c *Conn, env protocol.Envelope) error {
	var req protocol.WorkspaceRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	ws := req.WorkspaceID
	if ws == "" {
		ws = h.workspaceOr(c.workspace)
	}
	if c.workspace != "" && ws != c.workspace {
		return errWorkspaceMismatch
	}
	participants := []protocol.Participant{}
	if r, ok := h.rooms.Get(ws); ok {
		participants = r.Participants()
	}
	h.send(c, h.encode(protocol.EventParticipantsList, participants))
	return nil
}

func (h *Hub) handleGetSpreadsheet(c *Conn, env protocol.Envelope) error {
	var req protocol.WorkspaceRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	// get-spreadsheet is itself a join: the requester is bound and hears
	// later spreadsheet-changed broadcasts.
	ws := req.WorkspaceID
	if ws == "" {
		ws = h.workspaceOr(c.workspace)
	}
	r := h.bind(c, ws)
	r.Subscribe(room.Spreadsheet, c.ID)

	if r.Spreadsheet.Status() == state.Bootstrapped {
		h.sendSnapshot(c, r, protocol.EventSpreadsheetInitial)
		return nil
	}
	// Answered by completeLoad, which runs inline when there is no gateway.
	r.Spreadsheet.WaitInitial(c.ID)
	if r.Spreadsheet.BeginLoad() {
		h.startLoad(r.ID, store.Spreadsheet)
	}
	return nil
}

func (h *Hub) handleUpdateSpreadsheet(c *Conn, env protocol.Envelope) error {
	var req protocol.UpdateSpreadsheetRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	r, err := h.target(c, req.WorkspaceID)
	if err != nil {
		return err
	}
	identity := identityOf(c, "")
	now := h.opts.Now().UnixMilli()

	err = r.Spreadsheet.Update(*req.Version, req.Data, identity, now)
	var mismatch *state.VersionMismatch
	switch {
	case errors.Is(err, state.ErrNotReady):
		h.send(c, h.encode(protocol.EventSyncError, protocol.SyncError{Message: err.Error()}))
		return nil
	case errors.As(err, &mismatch):
		slog.Debug("spreadsheet update rejected", "workspace", r.ID, "conn", c.ID,
			"current", mismatch.Current, "received", mismatch.Received)
		h.send(c, h.encode(protocol.EventVersionMismatch, protocol.VersionMismatch{
			CurrentVersion:  mismatch.Current,
			ReceivedVersion: mismatch.Received,
		}))
		return nil
	case err != nil:
		return err
	}

	data, meta := r.Spreadsheet.Snapshot()
	h.relay(r, room.Spreadsheet, Versioned, c, h.encode(protocol.EventSpreadsheetChanged, protocol.SpreadsheetChanged{
		Data:      data,
		Version:   meta.Version,
		Identity:  identity,
		Timestamp: now,
	}))
	h.schedule(store.Spreadsheet, r.ID, r.Spreadsheet.Record())
	return nil
}

func (h *Hub) sendDocument(c *Conn, r *room.Room) {
	content, meta := r.Document.Content()
	h.send(c, h.encode(protocol.EventDocumentUpdate, protocol.DocumentUpdate{Content: content, Version: meta.Version}))
}

func (h *Hub) sendSnapshot(c *Conn, r *room.Room, event string) {
	data, meta := r.Spreadsheet.Snapshot()
	h.send(c, h.encode(event, protocol.SpreadsheetSnapshot{Data: data, Version: meta.Version}))
}
