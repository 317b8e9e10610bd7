package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cortexuvula/collabrelay/internal/protocol"
	"github.com/cortexuvula/collabrelay/internal/room"
)

// Strategy is the synchronization policy an event follows. It decides who
// receives the relayed frame.
type Strategy int

const (
	// Presence events go to the other presence members.
	Presence Strategy = iota
	// FanOutAll delivers to every presence member, sender included.
	FanOutAll
	// RelayOthers forwards opaque payloads to the other subscribers.
	RelayOthers
	// LastWriterWins replaces the whole surface and relays it to the others.
	LastWriterWins
	// CellPatch merges one cell and relays the patch to the others.
	CellPatch
	// Checkpoint replaces the stored snapshot without a broadcast.
	Checkpoint
	// Versioned accepts only the next version and echoes to everyone.
	Versioned
	// CursorSync relays cursor moves to the other spreadsheet subscribers.
	CursorSync
	// Query answers the sender only.
	Query
)

func (s Strategy) String() string {
	switch s {
	case Presence:
		return "presence"
	case FanOutAll:
		return "fan_out_all"
	case RelayOthers:
		return "relay_others"
	case LastWriterWins:
		return "last_writer_wins"
	case CellPatch:
		return "cell_patch"
	case Checkpoint:
		return "checkpoint"
	case Versioned:
		return "versioned"
	case CursorSync:
		return "cursor_sync"
	case Query:
		return "query"
	default:
		return "unknown"
	}
}

// echoes reports whether the sender receives its own relayed event.
func (s Strategy) echoes() bool {
	return s == FanOutAll || s == Versioned
}

// Dispatch errors. They are classified into drop-reason labels.
var (
	errNotJoined         = errors.New("session has not joined a workspace")
	errNotMember         = errors.New("session is not a presence member")
	errWorkspaceMismatch = errors.New("event names another workspace")
)

type route struct {
	strategy Strategy
	handle   func(*Hub, *Conn, protocol.Envelope) error
}

var routes = map[string]route{
	protocol.EventJoin:                  {Presence, (*Hub).handleJoin},
	protocol.EventMessage:               {FanOutAll, (*Hub).handleMessage},
	protocol.EventJoinDrawing:           {Presence, (*Hub).handleJoinDrawing},
	protocol.EventDrawing:               {RelayOthers, (*Hub).handleDrawing},
	protocol.EventJoinDocument:          {Presence, (*Hub).handleJoinDocument},
	protocol.EventDocumentChange:        {LastWriterWins, (*Hub).handleDocumentChange},
	protocol.EventJoinSpreadsheet:       {Presence, (*Hub).handleJoinSpreadsheet},
	protocol.EventCellChange:            {CellPatch, (*Hub).handleCellChange},
	protocol.EventSpreadsheetOp:         {RelayOthers, (*Hub).handleSpreadsheetOp},
	protocol.EventSpreadsheetCheckpoint: {Checkpoint, (*Hub).handleCheckpoint},
	protocol.EventCellSelect:            {CursorSync, (*Hub).handleCellSelect},
	protocol.EventCellDeselect:          {CursorSync, (*Hub).handleCellDeselect},
	protocol.EventGetUsers:              {Query, (*Hub).handleGetUsers},
	protocol.EventGetSpreadsheet:        {Presence, (*Hub).handleGetSpreadsheet},
	protocol.EventUpdateSpreadsheet:     {Versioned, (*Hub).handleUpdateSpreadsheet},
}

// StrategyFor returns the strategy of an inbound event.
func StrategyFor(event string) (Strategy, bool) {
	rt, ok := routes[event]
	return rt.strategy, ok
}

// dispatch runs one client event to completion. A panicking handler is
// logged and counted; the room keeps whatever state it had reached.
func (h *Hub) dispatch(c *Conn, env protocol.Envelope) {
	if c.closed {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("event handler panicked",
				"event", env.Event, "conn", c.ID, "workspace", c.workspace,
				"panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			h.countError("handler_panic")
		}
	}()

	rt, ok := routes[env.Event]
	if !ok {
		h.drop(c, env.Event, fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, env.Event))
		return
	}
	if h.opts.Metrics != nil {
		h.opts.Metrics.EventsTotal.WithLabelValues(env.Event).Inc()
	}
	if err := rt.handle(h, c, env); err != nil {
		h.drop(c, env.Event, err)
	}
}

// Drop records a frame that never reached the loop, such as one that
// failed to decode.
func (h *Hub) Drop(connID, event string, err error) {
	reason := dropReason(err)
	slog.Debug("event dropped", "conn", connID, "event", event, "reason", reason, "error", err)
	if h.opts.Metrics != nil {
		h.opts.Metrics.DroppedTotal.WithLabelValues(reason).Inc()
	}
}

func (h *Hub) drop(c *Conn, event string, err error) {
	h.Drop(c.ID, event, err)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, errNotJoined):
		return "not_joined"
	case errors.Is(err, errNotMember):
		return "not_member"
	case errors.Is(err, errWorkspaceMismatch):
		return "workspace_mismatch"
	default:
		return protocol.DropReason(err)
	}
}

// target resolves the room a mutation applies to. The payload workspace
// may be omitted but must match the session's binding when present.
func (h *Hub) target(c *Conn, workspaceID string) (*room.Room, error) {
	if c.workspace == "" {
		return nil, errNotJoined
	}
	if workspaceID != "" && workspaceID != c.workspace {
		return nil, fmt.Errorf("%w: bound to %q, got %q", errWorkspaceMismatch, c.workspace, workspaceID)
	}
	r, ok := h.rooms.Get(c.workspace)
	if !ok {
		return nil, errNotJoined
	}
	r.Touch(h.opts.Now())
	return r, nil
}

// relay delivers frame to the audience of a strategy: presence members for
// Presence and FanOutAll, otherwise the subscribers of surface.
func (h *Hub) relay(r *room.Room, surface room.Surface, s Strategy, sender *Conn, frame []byte) {
	var audience []string
	switch s {
	case Presence, FanOutAll:
		audience = r.MemberIDs()
	default:
		audience = r.Subscribers(surface)
	}
	skip := sender.ID
	if s.echoes() {
		skip = ""
		if s == Versioned && !r.Subscribed(surface, sender.ID) {
			h.send(sender, frame)
		}
	}
	h.broadcast(audience, skip, frame)
}

// identityOf prefers the identity the session joined with over whatever
// the payload claims.
func identityOf(c *Conn, claimed string) string {
	if c.identity != "" {
		return c.identity
	}
	if claimed != "" {
		return claimed
	}
	return "anonymous"
}
