package logring

import (
	"log/slog"
	"sync"
	"time"
)

// WorkspaceKey is the log attribute that scopes a record to a workspace.
const WorkspaceKey = "workspace"

// LogEntry represents a single log record stored in the ring buffer.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Workspace returns the workspace the entry was logged for, if any.
func (e LogEntry) Workspace() string {
	ws, _ := e.Attrs[WorkspaceKey].(string)
	return ws
}

// Filter selects entries. The zero Filter matches everything.
type Filter struct {
	Limit     int          // 0 means no limit
	MinLevel  slog.Leveler // nil means every level
	Since     time.Time
	Workspace string
}

func (f Filter) match(e LogEntry) bool {
	if f.MinLevel != nil && e.Level < f.MinLevel.Level() {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return f.Workspace == "" || e.Workspace() == f.Workspace
}

// RingBuffer is a thread-safe circular buffer for log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	head    int // next write position
	n       int
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{entries: make([]LogEntry, capacity)}
}

// Add appends a log entry to the buffer, overwriting the oldest if full.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % len(rb.entries)
	if rb.n < len(rb.entries) {
		rb.n++
	}
	rb.mu.Unlock()
}

// Entries returns the entries matching f, newest first.
func (rb *RingBuffer) Entries(f Filter) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []LogEntry
	size := len(rb.entries)
	for i := 0; i < rb.n && (f.Limit <= 0 || len(result) < f.Limit); i++ {
		e := rb.entries[(rb.head-1-i+size)%size]
		if f.match(e) {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int {
	return len(rb.entries)
}
