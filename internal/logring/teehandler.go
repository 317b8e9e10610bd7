package logring

import (
	"context"
	"log/slog"
)

// TeeHandler forwards records to an inner handler and keeps a flattened
// copy of each in a RingBuffer for the admin log endpoint.
type TeeHandler struct {
	inner  slog.Handler
	ring   *RingBuffer
	attrs  map[string]any // already qualified by the groups open when added
	prefix string
}

// NewTeeHandler creates a handler that forwards to inner and captures to ring.
func NewTeeHandler(inner slog.Handler, ring *RingBuffer) *TeeHandler {
	return &TeeHandler{inner: inner, ring: ring}
}

// Enabled delegates to the inner handler, so the ring never holds records
// below the configured level.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle captures r in the ring and forwards it to the inner handler.
func (h *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{Time: r.Time, Level: r.Level, Message: r.Message}

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for k, v := range h.attrs {
			attrs[k] = v
		}
		r.Attrs(func(a slog.Attr) bool {
			flatten(attrs, h.prefix, a)
			return true
		})
		if len(attrs) > 0 {
			entry.Attrs = attrs
		}
	}
	h.ring.Add(entry)

	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes pre-set.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make(map[string]any, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		merged[k] = v
	}
	for _, a := range attrs {
		flatten(merged, h.prefix, a)
	}
	return &TeeHandler{inner: h.inner.WithAttrs(attrs), ring: h.ring, attrs: merged, prefix: h.prefix}
}

// WithGroup returns a new handler with the given group name.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &TeeHandler{inner: h.inner.WithGroup(name), ring: h.ring, attrs: h.attrs, prefix: h.prefix + name + "."}
}

// flatten stores a under its dotted key, expanding group values.
func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		if a.Key != "" {
			dst[prefix+a.Key] = v.Any()
		}
		return
	}
	sub := prefix
	if a.Key != "" {
		sub = prefix + a.Key + "."
	}
	for _, g := range v.Group() {
		flatten(dst, sub, g)
	}
}

