// Package state holds the authoritative in-memory copy of a workspace's
// durable surfaces: the shared document and the shared spreadsheet.
//
// A surface moves EMPTY -> LOADING -> BOOTSTRAPPED. A direct write while
// EMPTY or LOADING bootstraps it immediately and the late load result is
// discarded. Surfaces are owned by the relay loop and carry no locks.
package state

import "encoding/json"

// Status is the lifecycle stage of a surface.
type Status int

const (
	Empty Status = iota
	Loading
	Bootstrapped
)

func (s Status) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Bootstrapped:
		return "bootstrapped"
	default:
		return "unknown"
	}
}

// Meta is the bookkeeping kept alongside every durable surface.
type Meta struct {
	Version        int64  `json:"version"`
	LastModified   int64  `json:"lastModified"`
	LastModifiedBy string `json:"lastModifiedBy,omitempty"`
}

func (m *Meta) touch(identity string, nowMs int64) {
	m.Version++
	m.LastModified = nowMs
	m.LastModifiedBy = identity
}

// Loaded is the result of reading a surface from durable storage. A nil
// *Loaded means nothing was stored.
type Loaded struct {
	Data json.RawMessage
	Meta
}

// waitList is the set of connections that asked for a snapshot while the
// surface was loading, in arrival order.
type waitList []string

func (w *waitList) add(connID string) {
	for _, id := range *w {
		if id == connID {
			return
		}
	}
	*w = append(*w, connID)
}

func (w *waitList) remove(connID string) {
	for i, id := range *w {
		if id == connID {
			*w = append((*w)[:i], (*w)[i+1:]...)
			return
		}
	}
}

func (w *waitList) drain() []string {
	out := *w
	*w = nil
	return out
}
