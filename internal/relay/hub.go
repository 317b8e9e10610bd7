// Package relay is the real-time core: a single event loop that owns every
// room, the connection registry and the cursor trackers, plus the
// WebSocket handler that feeds it.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/cortexuvula/collabrelay/internal/cursor"
	"github.com/cortexuvula/collabrelay/internal/metrics"
	"github.com/cortexuvula/collabrelay/internal/protocol"
	"github.com/cortexuvula/collabrelay/internal/registry"
	"github.com/cortexuvula/collabrelay/internal/room"
	"github.com/cortexuvula/collabrelay/internal/store"
)

// ErrStopped is returned by hub calls made after Run has returned.
var ErrStopped = errors.New("relay: hub stopped")

// Options configures a Hub.
type Options struct {
	DefaultWorkspace  string
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	DrawingReplaySize int
	LoadTimeout       time.Duration
	InboxSize         int

	// Gateway loads durable surfaces. Nil means every surface starts empty.
	Gateway store.Gateway
	// Writer saves durable surfaces. Nil disables saving.
	Writer  *store.Writer
	Metrics *metrics.Metrics

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Hub serializes every room mutation on one goroutine. Connection
// goroutines, load completions and admin reads reach it through Submit.
type Hub struct {
	opts Options

	inbox chan func()
	done  chan struct{}

	registry *registry.Registry
	rooms    *room.Manager
	cursors  *cursor.Tracker
	conns    map[string]*Conn

	idleTimeout   time.Duration
	lastMessageID int64
	startedAt     time.Time
}

// NewHub creates a hub. Call Run to start it.
func NewHub(opts Options) *Hub {
	if opts.DefaultWorkspace == "" {
		opts.DefaultWorkspace = "default"
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 5 * time.Second
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		opts:        opts,
		inbox:       make(chan func(), opts.InboxSize),
		done:        make(chan struct{}),
		registry:    registry.New(),
		rooms:       room.NewManager(opts.DrawingReplaySize),
		cursors:     cursor.New(),
		conns:       make(map[string]*Conn),
		idleTimeout: opts.IdleTimeout,
		startedAt:   opts.Now(),
	}
}

// Run processes events until ctx is cancelled. Sessions still attached at
// that point are closed with StatusGoingAway.
func (h *Hub) Run(ctx context.Context) {
	var sweep <-chan time.Time
	if h.opts.SweepInterval > 0 {
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	slog.Info("relay hub started", "default_workspace", h.opts.DefaultWorkspace, "idle_timeout", h.idleTimeout)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case fn := <-h.inbox:
			fn()
		case <-sweep:
			h.sweep()
		}
	}
}

func (h *Hub) shutdown() {
	for _, c := range h.conns {
		c.closeCode = websocket.StatusGoingAway
		c.closeReason = "server shutting down"
		h.cleanup(c, false)
	}
	close(h.done)
	slog.Info("relay hub stopped", "rooms", h.rooms.Len())
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Submit queues fn to run on the loop. It blocks while the inbox is full
// and reports false once the hub has stopped.
func (h *Hub) Submit(fn func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.inbox <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Query runs fn on the loop and waits for it to finish. fn must not write
// to memory the caller reads after a timeout; use ask to return values.
func (h *Hub) Query(ctx context.Context, fn func()) error {
	_, err := ask(ctx, h, func() struct{} {
		fn()
		return struct{}{}
	})
	return err
}

// ask runs fn on the loop and hands its result back over a channel, so a
// caller that stops waiting shares nothing with the loop.
func ask[T any](ctx context.Context, h *Hub, fn func() T) (T, error) {
	var zero T
	out := make(chan T, 1)
	if !h.Submit(func() { out <- fn() }) {
		return zero, ErrStopped
	}
	select {
	case v := <-out:
		return v, nil
	case <-h.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Attach registers a new session with the loop.
func (h *Hub) Attach(c *Conn) bool {
	return h.Submit(func() {
		h.conns[c.ID] = c
		slog.Debug("session attached", "conn", c.ID, "client_ip", c.RemoteIP)
	})
}

// Detach runs disconnect cleanup for a session whose transport closed.
func (h *Hub) Detach(c *Conn) bool {
	return h.Submit(func() {
		h.cleanup(c, true)
	})
}

// Deliver hands one decoded client frame to the loop.
func (h *Hub) Deliver(c *Conn, env protocol.Envelope) bool {
	return h.Submit(func() {
		h.dispatch(c, env)
	})
}

// SetIdleTimeout changes the room eviction threshold at runtime.
func (h *Hub) SetIdleTimeout(d time.Duration) {
	h.Submit(func() {
		if d != h.idleTimeout {
			slog.Info("room idle timeout changed", "old", h.idleTimeout, "new", d)
		}
		h.idleTimeout = d
	})
}

func (h *Hub) workspaceOr(id string) string {
	if id == "" {
		return h.opts.DefaultWorkspace
	}
	return id
}

// bind attaches c to workspace ws, leaving any other workspace first.
func (h *Hub) bind(c *Conn, ws string) *room.Room {
	if c.workspace != "" && c.workspace != ws {
		slog.Debug("session switching workspace", "conn", c.ID, "from", c.workspace, "to", ws)
		h.leaveWorkspace(c, true)
	}
	c.workspace = ws
	now := h.opts.Now()
	r := h.rooms.Ensure(ws, now)
	r.Touch(now)
	h.gaugeRooms()
	return r
}

// leaveWorkspace removes every trace of c from its workspace: presence,
// surface subscriptions, load wait lists and its cursor. participant-left
// is sent only when announce is set and no other session still holds the
// identity. Calling it twice is harmless.
func (h *Hub) leaveWorkspace(c *Conn, announce bool) {
	ws := c.workspace
	if ws == "" {
		return
	}
	c.workspace = ""
	h.registry.Unregister(c.ID)

	r, ok := h.rooms.Get(ws)
	if !ok {
		h.cursors.Remove(ws, c.ID)
		return
	}
	r.Touch(h.opts.Now())

	if h.cursors.Remove(ws, c.ID) {
		h.broadcast(r.Subscribers(room.Spreadsheet), c.ID, h.encode(protocol.EventCursorRemoved, protocol.CursorRemoved{ConnectionID: c.ID}))
	}
	identity, wasMember := r.Drop(c.ID)
	if !announce || !wasMember {
		return
	}
	if !r.HasIdentity(identity, "") {
		h.broadcast(r.MemberIDs(), "", h.encode(protocol.EventParticipantLeft, protocol.ParticipantEvent{Identity: identity}))
		slog.Info("participant left", "workspace", ws, "identity", identity, "conn", c.ID)
	}
	h.broadcastParticipants(r)
}

// broadcastParticipants sends the current presence list to every member.
func (h *Hub) broadcastParticipants(r *room.Room) {
	members := r.MemberIDs()
	if len(members) == 0 {
		return
	}
	h.broadcast(members, "", h.encode(protocol.EventParticipantsList, r.Participants()))
}

// cleanup is the single disconnect path. It is idempotent.
func (h *Hub) cleanup(c *Conn, announce bool) {
	if c.closed {
		return
	}
	h.leaveWorkspace(c, announce)
	c.closed = true
	close(c.send)
	delete(h.conns, c.ID)
}

// evict force-closes c with the given close code.
func (h *Hub) evict(c *Conn, code websocket.StatusCode, reason, kind string, announce bool) {
	if c.closed {
		return
	}
	slog.Warn("evicting session", "conn", c.ID, "workspace", c.workspace, "identity", c.identity, "reason", reason)
	c.closeCode = code
	c.closeReason = reason
	h.cleanup(c, announce)
	if h.opts.Metrics != nil {
		h.opts.Metrics.EvictionsTotal.WithLabelValues(kind).Inc()
	}
}

// send queues frame for c. A full queue marks a slow consumer, which is
// disconnected rather than allowed to stall the loop.
func (h *Hub) send(c *Conn, frame []byte) {
	if c == nil || c.closed || frame == nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.evict(c, websocket.StatusPolicyViolation, "slow consumer", "slow_consumer", true)
	}
}

func (h *Hub) sendTo(connID string, frame []byte) {
	h.send(h.conns[connID], frame)
}

// broadcast queues frame for every listed connection except skip.
func (h *Hub) broadcast(targets []string, skip string, frame []byte) {
	if frame == nil {
		return
	}
	for _, id := range targets {
		if id == skip {
			continue
		}
		h.sendTo(id, frame)
	}
}

func (h *Hub) encode(event string, data any) []byte {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		slog.Error("failed to encode event", "event", event, "error", err)
		h.countError("encode")
		return nil
	}
	return frame
}

// nextMessageID derives a chat id from the emission time, bumped so ids
// stay strictly increasing within the process.
func (h *Hub) nextMessageID(now time.Time) string {
	id := now.UnixMilli()
	if id <= h.lastMessageID {
		id = h.lastMessageID + 1
	}
	h.lastMessageID = id
	return strconv.FormatInt(id, 10)
}

func (h *Hub) sweep() {
	evicted := h.rooms.Sweep(h.opts.Now(), h.idleTimeout)
	for _, ws := range evicted {
		h.cursors.Drop(ws)
		if h.opts.Writer != nil {
			h.opts.Writer.Forget(ws)
		}
		if h.opts.Metrics != nil {
			h.opts.Metrics.EvictionsTotal.WithLabelValues("room").Inc()
		}
		slog.Info("idle room evicted", "workspace", ws)
	}
	if len(evicted) > 0 {
		h.gaugeRooms()
	}
}

func (h *Hub) gaugeRooms() {
	if h.opts.Metrics != nil {
		h.opts.Metrics.Rooms.Set(float64(h.rooms.Len()))
	}
}

func (h *Hub) countError(kind string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	}
}
