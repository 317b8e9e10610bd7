package room

import (
	"log/slog"
	"sort"
	"time"

	"github.com/cortexuvula/collabrelay/internal/state"
)

// Manager owns every room of the process. Rooms are created lazily on the
// first join and kept when they empty out, unless idle eviction is on.
type Manager struct {
	rooms      map[string]*Room
	replaySize int
}

// NewManager creates a manager. replaySize bounds each room's drawing
// replay ring; 0 disables it.
func NewManager(replaySize int) *Manager {
	return &Manager{
		rooms:      make(map[string]*Room),
		replaySize: replaySize,
	}
}

// Get returns an existing room.
func (m *Manager) Get(id string) (*Room, bool) {
	r, ok := m.rooms[id]
	return r, ok
}

// Ensure returns the room for id, creating it if needed.
func (m *Manager) Ensure(id string, now time.Time) *Room {
	if r, ok := m.rooms[id]; ok {
		return r
	}
	r := newRoom(id, m.replaySize, now)
	m.rooms[id] = r
	slog.Debug("room created", "workspace", id)
	return r
}

// IDs returns the ids of all rooms.
func (m *Manager) IDs() []string {
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of rooms.
func (m *Manager) Len() int { return len(m.rooms) }

// Sweep removes vacant rooms idle for longer than idleTimeout and returns
// their ids. Rooms with a load in flight are kept.
func (m *Manager) Sweep(now time.Time, idleTimeout time.Duration) []string {
	if idleTimeout <= 0 {
		return nil
	}
	var evicted []string
	for id, r := range m.rooms {
		if !r.Vacant() || now.Sub(r.lastActive) < idleTimeout {
			continue
		}
		if r.Document.Status() == state.Loading || r.Spreadsheet.Status() == state.Loading {
			continue
		}
		delete(m.rooms, id)
		evicted = append(evicted, id)
	}
	sort.Strings(evicted)
	return evicted
}
