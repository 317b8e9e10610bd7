package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JoinRequest is the payload of join, join-drawing and join-document.
type JoinRequest struct {
	Identity    string `json:"identity"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

func (r *JoinRequest) Validate() error {
	if r.Identity == "" {
		return fmt.Errorf("%w: identity is required", ErrMalformed)
	}
	return nil
}

// ChatRequest is the payload of a client message event.
type ChatRequest struct {
	Identity    string `json:"identity,omitempty"`
	Text        string `json:"text"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

func (r *ChatRequest) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("%w: text is required", ErrMalformed)
	}
	return nil
}

// DrawingData is an opaque stroke descriptor or a clear command.
type DrawingData struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DrawingRequest is the payload of a drawing event.
type DrawingRequest struct {
	Data        DrawingData `json:"data"`
	WorkspaceID string      `json:"workspaceId,omitempty"`
}

func (r *DrawingRequest) Validate() error {
	switch r.Data.Type {
	case DrawingPath:
		if isEmptyJSON(r.Data.Data) {
			return fmt.Errorf("%w: path stroke without data", ErrMalformed)
		}
		return nil
	case DrawingClear:
		return nil
	default:
		return fmt.Errorf("%w: drawing type %q", ErrMalformed, r.Data.Type)
	}
}

// DocumentChangeRequest replaces the room's document content.
type DocumentChangeRequest struct {
	Content     *string `json:"content"`
	WorkspaceID string  `json:"workspaceId,omitempty"`
}

func (r *DocumentChangeRequest) Validate() error {
	if r.Content == nil {
		return fmt.Errorf("%w: content is required", ErrMalformed)
	}
	return nil
}

// JoinSpreadsheetRequest joins the spreadsheet surface, optionally
// offering the client's local workbook as the initial snapshot.
type JoinSpreadsheetRequest struct {
	Identity    string          `json:"identity"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
}

func (r *JoinSpreadsheetRequest) Validate() error {
	if r.Identity == "" {
		return fmt.Errorf("%w: identity is required", ErrMalformed)
	}
	return nil
}

// CellChangeRequest writes a single cell.
type CellChangeRequest struct {
	WorkspaceID string          `json:"workspaceId,omitempty"`
	Identity    string          `json:"identity,omitempty"`
	Row         *int            `json:"row"`
	Column      *int            `json:"column"`
	Value       json.RawMessage `json:"value"`
	SheetID     string          `json:"sheetId,omitempty"`
}

func (r *CellChangeRequest) Validate() error {
	return validateCell(r.Row, r.Column)
}

// SpreadsheetOpRequest carries an opaque ordered batch of operations.
type SpreadsheetOpRequest struct {
	Ops         json.RawMessage `json:"ops"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
}

func (r *SpreadsheetOpRequest) Validate() error {
	if isEmptyJSON(r.Ops) {
		return fmt.Errorf("%w: ops are required", ErrMalformed)
	}
	return nil
}

// SpreadsheetOps is the relayed form of a spreadsheet-op.
type SpreadsheetOps struct {
	Ops json.RawMessage `json:"ops"`
}

// CheckpointRequest replaces the stored workbook without a broadcast.
type CheckpointRequest struct {
	Data        json.RawMessage `json:"data"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
}

func (r *CheckpointRequest) Validate() error {
	if !isJSONObject(r.Data) {
		return fmt.Errorf("%w: checkpoint data must be a workbook object", ErrMalformed)
	}
	return nil
}

// CellSelectRequest moves the sender's cursor.
type CellSelectRequest struct {
	Identity    string `json:"identity,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Row         *int   `json:"row"`
	Column      *int   `json:"column"`
	SheetIndex  *int   `json:"sheetIndex,omitempty"`
	Color       string `json:"color,omitempty"`
}

func (r *CellSelectRequest) Validate() error {
	if err := validateCell(r.Row, r.Column); err != nil {
		return err
	}
	if r.SheetIndex != nil && *r.SheetIndex < 0 {
		return fmt.Errorf("%w: negative sheet index", ErrMalformed)
	}
	return nil
}

// WorkspaceRequest is the payload of events that only name a workspace:
// cell-deselect, get-users and get-spreadsheet.
type WorkspaceRequest struct {
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// UpdateSpreadsheetRequest is an optimistic-concurrency workbook write.
type UpdateSpreadsheetRequest struct {
	WorkspaceID string          `json:"workspaceId,omitempty"`
	Version     *int64          `json:"version"`
	Data        json.RawMessage `json:"data"`
}

func (r *UpdateSpreadsheetRequest) Validate() error {
	if r.Version == nil {
		return fmt.Errorf("%w: version is required", ErrMalformed)
	}
	if !isJSONObject(r.Data) {
		return fmt.Errorf("%w: data must be a workbook object", ErrMalformed)
	}
	return nil
}

// Participant is one entry of a participants-list.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	Identity     string `json:"identity"`
}

// ParticipantEvent is the payload of participant-joined and participant-left.
type ParticipantEvent struct {
	Identity string `json:"identity"`
}

// ChatMessage is a relayed chat message.
type ChatMessage struct {
	ID        string `json:"id"`
	Identity  string `json:"identity"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// DocumentUpdate carries the full document content.
type DocumentUpdate struct {
	Content string `json:"content"`
	Version int64  `json:"version"`
}

// SpreadsheetSnapshot carries a full workbook. Sent as
// spreadsheet-snapshot on join and spreadsheet-initial on request.
type SpreadsheetSnapshot struct {
	Data    json.RawMessage `json:"data"`
	Version int64           `json:"version"`
}

// CellChanged is the relayed form of a cell-change.
type CellChanged struct {
	Row      int             `json:"row"`
	Column   int             `json:"column"`
	Value    json.RawMessage `json:"value"`
	Identity string          `json:"identity"`
	SheetID  string          `json:"sheetId,omitempty"`
}

// Cursor is the payload of cursor-update and an entry of spreadsheet-cursors.
type Cursor struct {
	ConnectionID string `json:"connectionId"`
	Identity     string `json:"identity"`
	Row          int    `json:"row"`
	Column       int    `json:"column"`
	SheetIndex   *int   `json:"sheetIndex,omitempty"`
	Color        string `json:"color,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// CursorRemoved is the payload of cursor-removed.
type CursorRemoved struct {
	ConnectionID string `json:"connectionId"`
}

// SpreadsheetChanged is broadcast after an accepted update-spreadsheet.
type SpreadsheetChanged struct {
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	Identity  string          `json:"identity"`
	Timestamp int64           `json:"timestamp"`
}

// VersionMismatch rejects an update-spreadsheet with a stale version.
type VersionMismatch struct {
	CurrentVersion  int64 `json:"currentVersion"`
	ReceivedVersion int64 `json:"receivedVersion"`
}

// SyncError reports a request that cannot be served.
type SyncError struct {
	Message string `json:"message"`
}

func validateCell(row, column *int) error {
	if row == nil || column == nil {
		return fmt.Errorf("%w: row and column are required", ErrMalformed)
	}
	if *row < 0 || *column < 0 {
		return fmt.Errorf("%w: negative cell index (%d, %d)", ErrMalformed, *row, *column)
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// IsJSONObject reports whether raw holds a JSON object.
func IsJSONObject(raw json.RawMessage) bool {
	return isJSONObject(raw)
}
