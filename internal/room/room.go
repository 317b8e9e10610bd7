// Package room models a workspace room: presence members, per-surface
// subscribers and the shared state of the room's surfaces.
package room

import (
	"sort"
	"time"

	"github.com/cortexuvula/collabrelay/internal/drawing"
	"github.com/cortexuvula/collabrelay/internal/protocol"
	"github.com/cortexuvula/collabrelay/internal/state"
)

// Surface is a per-room channel a connection can subscribe to.
type Surface int

const (
	Drawing Surface = iota
	Document
	Spreadsheet
	numSurfaces
)

func (s Surface) String() string {
	switch s {
	case Drawing:
		return "drawing"
	case Document:
		return "document"
	case Spreadsheet:
		return "spreadsheet"
	default:
		return "unknown"
	}
}

type member struct {
	identity string
	seq      uint64
}

// Room is one workspace. It is owned by the relay loop.
type Room struct {
	ID string

	Document    state.Document
	Spreadsheet *state.Spreadsheet
	Drawing     *drawing.Replay

	members     map[string]member
	subscribers [numSurfaces]map[string]struct{}
	seq         uint64
	createdAt   time.Time
	lastActive  time.Time
}

func newRoom(id string, replaySize int, now time.Time) *Room {
	r := &Room{
		ID:          id,
		Spreadsheet: state.NewSpreadsheet(id),
		Drawing:     drawing.NewReplay(replaySize),
		members:     make(map[string]member),
		createdAt:   now,
		lastActive:  now,
	}
	for i := range r.subscribers {
		r.subscribers[i] = make(map[string]struct{})
	}
	return r
}

// Join adds connID to the presence members under identity.
func (r *Room) Join(connID, identity string) {
	r.seq++
	r.members[connID] = member{identity: identity, seq: r.seq}
}

// Leave removes connID from the presence members and returns the identity
// it held.
func (r *Room) Leave(connID string) (string, bool) {
	m, ok := r.members[connID]
	if !ok {
		return "", false
	}
	delete(r.members, connID)
	return m.identity, true
}

// IsMember reports whether connID is a presence member.
func (r *Room) IsMember(connID string) bool {
	_, ok := r.members[connID]
	return ok
}

// MemberIDs returns the connection ids of all presence members.
func (r *Room) MemberIDs() []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasIdentity reports whether any member other than exceptConn holds identity.
func (r *Room) HasIdentity(identity, exceptConn string) bool {
	for id, m := range r.members {
		if id != exceptConn && m.identity == identity {
			return true
		}
	}
	return false
}

// Participants returns the presence list collapsed by identity. When two
// connections briefly hold the same identity the most recent join is shown.
func (r *Room) Participants() []protocol.Participant {
	latest := make(map[string]string, len(r.members)) // identity -> conn
	for conn, m := range r.members {
		if cur, ok := latest[m.identity]; !ok || m.seq > r.members[cur].seq {
			latest[m.identity] = conn
		}
	}
	out := make([]protocol.Participant, 0, len(latest))
	for identity, conn := range latest {
		out = append(out, protocol.Participant{ConnectionID: conn, Identity: identity})
	}
	sort.Slice(out, func(i, j int) bool {
		return r.members[out[i].ConnectionID].seq < r.members[out[j].ConnectionID].seq
	})
	return out
}

// Subscribe adds connID to a surface's subscribers.
func (r *Room) Subscribe(s Surface, connID string) {
	r.subscribers[s][connID] = struct{}{}
}

// Subscribed reports whether connID listens to a surface.
func (r *Room) Subscribed(s Surface, connID string) bool {
	_, ok := r.subscribers[s][connID]
	return ok
}

// Subscribers returns the connection ids subscribed to a surface.
func (r *Room) Subscribers(s Surface) []string {
	subs := r.subscribers[s]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Drop removes connID from membership and every surface. It returns the
// identity when connID was a presence member.
func (r *Room) Drop(connID string) (string, bool) {
	for _, subs := range r.subscribers {
		delete(subs, connID)
	}
	r.Document.Forget(connID)
	r.Spreadsheet.Forget(connID)
	return r.Leave(connID)
}

// Touch records activity.
func (r *Room) Touch(now time.Time) {
	r.lastActive = now
}

// LastActive returns the time of the last recorded activity.
func (r *Room) LastActive() time.Time { return r.lastActive }

// CreatedAt returns when the room was created.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Vacant reports whether the room has no members and no subscribers.
func (r *Room) Vacant() bool {
	if len(r.members) > 0 {
		return false
	}
	for _, subs := range r.subscribers {
		if len(subs) > 0 {
			return false
		}
	}
	return true
}

// Counts summarizes a room for status output.
type Counts struct {
	Members     int `json:"members"`
	Drawing     int `json:"drawing"`
	Document    int `json:"document"`
	Spreadsheet int `json:"spreadsheet"`
}

// Counts returns membership and subscription totals.
func (r *Room) Counts() Counts {
	return Counts{
		Members:     len(r.members),
		Drawing:     len(r.subscribers[Drawing]),
		Document:    len(r.subscribers[Document]),
		Spreadsheet: len(r.subscribers[Spreadsheet]),
	}
}
