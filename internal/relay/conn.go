package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Conn is one client session as seen by the hub.
//
// The send queue is written and closed only by the hub loop. The fields
// below it are owned by the loop as well; the writer goroutine reads
// closeCode and closeReason only after the queue is closed.
type Conn struct {
	ID       string
	RemoteIP string

	send chan []byte

	workspace string
	identity  string
	closed    bool

	closeCode   websocket.StatusCode
	closeReason string
}

// NewConn creates a session with a send queue of the given depth.
func NewConn(id, remoteIP string, queue int) *Conn {
	if queue <= 0 {
		queue = 1
	}
	return &Conn{
		ID:        id,
		RemoteIP:  remoteIP,
		send:      make(chan []byte, queue),
		closeCode: websocket.StatusNormalClosure,
	}
}

// writePump drains the send queue onto ws. When the hub closes the queue
// the pending frames are flushed and ws is closed with the code the hub
// chose. It returns early on a write error or when ctx ends.
func (c *Conn) writePump(ctx context.Context, ws *websocket.Conn, writeTimeout time.Duration) {
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				ws.Close(c.closeCode, c.closeReason)
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Debug("write failed", "conn", c.ID, "error", err)
				ws.CloseNow()
				return
			}
		case <-ctx.Done():
			ws.CloseNow()
			return
		}
	}
}
