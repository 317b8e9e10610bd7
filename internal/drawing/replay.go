// Package drawing keeps an optional bounded history of canvas strokes so a
// late joiner can be shown what was drawn before it arrived.
package drawing

import (
	"log/slog"
	"time"

	"github.com/cortexuvula/collabrelay/internal/protocol"
)

// Replay is a ring of encoded drawing-update frames for one room. A Replay
// with size 0 records nothing. Owned by the relay loop.
type Replay struct {
	size      int
	frames    [][]byte
	updatedAt time.Time
}

// NewReplay creates a replay ring holding up to size strokes.
func NewReplay(size int) *Replay {
	if size < 0 {
		size = 0
	}
	return &Replay{size: size}
}

// Enabled reports whether strokes are retained at all.
func (r *Replay) Enabled() bool { return r != nil && r.size > 0 }

// Record updates the history from one drawing event. Path strokes are
// appended, dropping the oldest when full; a clear empties the ring.
// The frame is copied.
func (r *Replay) Record(kind string, frame []byte, now time.Time) {
	if !r.Enabled() {
		return
	}
	switch kind {
	case protocol.DrawingPath:
		entry := append([]byte(nil), frame...)
		if len(r.frames) >= r.size {
			copy(r.frames, r.frames[1:])
			r.frames[len(r.frames)-1] = entry
		} else {
			r.frames = append(r.frames, entry)
		}
	case protocol.DrawingClear:
		r.frames = r.frames[:0]
		slog.Debug("drawing replay cleared")
	default:
		return
	}
	r.updatedAt = now
}

// Frames returns the retained strokes, oldest first.
func (r *Replay) Frames() [][]byte {
	if r == nil || len(r.frames) == 0 {
		return nil
	}
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

// Len returns the number of retained strokes.
func (r *Replay) Len() int {
	if r == nil {
		return 0
	}
	return len(r.frames)
}

// UpdatedAt returns the time of the last recorded change.
func (r *Replay) UpdatedAt() time.Time {
	if r == nil {
		return time.Time{}
	}
	return r.updatedAt
}
