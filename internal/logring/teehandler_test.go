package logring

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTee(level slog.Level) (*bytes.Buffer, *RingBuffer, *TeeHandler) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	ring := NewRingBuffer(100)
	return &buf, ring, NewTeeHandler(inner, ring)
}

func single(t *testing.T, ring *RingBuffer) LogEntry {
	t.Helper()
	entries := ring.Entries(Filter{})
	if len(entries) != 1 {
		t.Fatalf("ring has %d entries, want 1", len(entries))
	}
	return entries[0]
}

func TestTeeHandlerForwards(t *testing.T) {
	buf, ring, handler := newTee(slog.LevelDebug)

	slog.New(handler).Info("room created", "workspace", "team")

	if !strings.Contains(buf.String(), "room created") {
		t.Errorf("inner handler did not receive message, got: %s", buf.String())
	}
	e := single(t, ring)
	if e.Message != "room created" || e.Level != slog.LevelInfo {
		t.Errorf("entry = %+v", e)
	}
	if e.Workspace() != "team" {
		t.Errorf("Workspace() = %q, want team", e.Workspace())
	}
}

func TestTeeHandlerEnabled(t *testing.T) {
	_, ring, handler := newTee(slog.LevelWarn)

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("should not be enabled for Debug when inner is Warn")
	}
	slog.New(handler).Debug("dropped")
	if ring.Len() != 0 {
		t.Errorf("ring captured %d records below the level", ring.Len())
	}
}

func TestTeeHandlerWithAttrs(t *testing.T) {
	_, ring, handler := newTee(slog.LevelDebug)

	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("workspace", "w1")}))
	logger.Info("join")

	if e := single(t, ring); e.Workspace() != "w1" {
		t.Errorf("attrs = %v, want workspace w1", e.Attrs)
	}
}

func TestTeeHandlerGroups(t *testing.T) {
	_, ring, handler := newTee(slog.LevelDebug)

	// Attrs set before a group stay unqualified.
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("conn", "c1")}).WithGroup("req"))
	logger.Info("test", "method", "GET", slog.Group("peer", "ip", "10.0.0.1"))

	e := single(t, ring)
	want := map[string]any{"conn": "c1", "req.method": "GET", "req.peer.ip": "10.0.0.1"}
	for k, v := range want {
		if e.Attrs[k] != v {
			t.Errorf("attrs[%s] = %v, want %v", k, e.Attrs[k], v)
		}
	}
}
