// Package protocol defines the event envelope exchanged over relay
// WebSocket connections and the payloads carried by each event.
package protocol

// Client to server events.
const (
	EventJoin                  = "join"
	EventMessage               = "message"
	EventJoinDrawing           = "join-drawing"
	EventDrawing               = "drawing"
	EventJoinDocument          = "join-document"
	EventDocumentChange        = "document-change"
	EventJoinSpreadsheet       = "join-spreadsheet"
	EventCellChange            = "cell-change"
	EventSpreadsheetOp         = "spreadsheet-op"
	EventSpreadsheetCheckpoint = "spreadsheet-checkpoint"
	EventCellSelect            = "cell-select"
	EventCellDeselect          = "cell-deselect"
	EventGetUsers              = "get-users"
	EventGetSpreadsheet        = "get-spreadsheet"
	EventUpdateSpreadsheet     = "update-spreadsheet"
)

// Server to client events. EventMessage and EventSpreadsheetOp are used
// in both directions.
const (
	EventParticipantsList    = "participants-list"
	EventParticipantJoined   = "participant-joined"
	EventParticipantLeft     = "participant-left"
	EventDrawingUpdate       = "drawing-update"
	EventDocumentUpdate      = "document-update"
	EventSpreadsheetSnapshot = "spreadsheet-snapshot"
	EventSpreadsheetCursors  = "spreadsheet-cursors"
	EventCellChanged         = "cell-changed"
	EventCursorUpdate        = "cursor-update"
	EventCursorRemoved       = "cursor-removed"
	EventSpreadsheetInitial  = "spreadsheet-initial"
	EventSpreadsheetChanged  = "spreadsheet-changed"
	EventVersionMismatch     = "version-mismatch"
	EventSyncError           = "sync-error"
)

// Drawing payload kinds.
const (
	DrawingPath  = "path"
	DrawingClear = "clear"
)

// inbound lists every event a client may send. Anything else is dropped.
var inbound = map[string]bool{
	EventJoin:                  true,
	EventMessage:               true,
	EventJoinDrawing:           true,
	EventDrawing:               true,
	EventJoinDocument:          true,
	EventDocumentChange:        true,
	EventJoinSpreadsheet:       true,
	EventCellChange:            true,
	EventSpreadsheetOp:         true,
	EventSpreadsheetCheckpoint: true,
	EventCellSelect:            true,
	EventCellDeselect:          true,
	EventGetUsers:              true,
	EventGetSpreadsheet:        true,
	EventUpdateSpreadsheet:     true,
}

// IsInbound reports whether event is a known client to server event.
func IsInbound(event string) bool {
	return inbound[event]
}
