package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortexuvula/collabrelay/internal/protocol"
	"github.com/cortexuvula/collabrelay/internal/state"
	"github.com/cortexuvula/collabrelay/internal/store"
)

// startLoad reads a durable surface off the loop. The result comes back
// through the inbox; without a gateway the surface bootstraps at once.
func (h *Hub) startLoad(ws string, surface store.Surface) {
	if h.opts.Gateway == nil {
		h.completeLoad(ws, surface, nil, nil)
		return
	}
	gw := h.opts.Gateway
	timeout := h.opts.LoadTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		rec, err := gw.Load(ctx, surface, ws)
		slog.Debug("persistence: load finished", "surface", surface, "workspace", ws, "took", time.Since(start), "found", rec != nil)
		h.Submit(func() { h.completeLoad(ws, surface, rec, err) })
	}()
}

// completeLoad bootstraps a surface from a load result. A load error is
// treated as "nothing stored".
func (h *Hub) completeLoad(ws string, surface store.Surface, rec *store.Record, err error) {
	switch {
	case err != nil:
		slog.Error("persistence: load failed, starting from empty state", "surface", surface, "workspace", ws, "error", err)
		h.countPersistence("load", "error")
		rec = nil
	case rec == nil:
		h.countPersistence("load", "miss")
	default:
		h.countPersistence("load", "ok")
	}

	r, ok := h.rooms.Get(ws)
	if !ok {
		return
	}

	switch surface {
	case store.Document:
		waiters, ok := r.Document.CompleteLoad(toLoaded(rec))
		if !ok {
			slog.Debug("late document load discarded", "workspace", ws)
			return
		}
		if rec != nil {
			h.remember(surface, ws, rec)
		}
		for _, id := range waiters {
			h.sendDocument(h.conns[id], r)
		}
		slog.Info("document bootstrapped", "workspace", ws, "stored", rec != nil, "waiters", len(waiters))

	case store.Spreadsheet:
		b, ok := r.Spreadsheet.CompleteLoad(toLoaded(rec))
		if !ok {
			slog.Debug("late spreadsheet load discarded", "workspace", ws)
			return
		}
		if rec != nil && b.Source == state.SourceStored {
			h.remember(surface, ws, rec)
		}
		if b.Dirty || b.Source == state.SourceDefault {
			h.schedule(surface, ws, r.Spreadsheet.Record())
		}
		for _, id := range b.Waiters {
			h.sendSnapshot(h.conns[id], r, protocol.EventSpreadsheetSnapshot)
		}
		for _, id := range b.Initial {
			h.sendSnapshot(h.conns[id], r, protocol.EventSpreadsheetInitial)
		}
		slog.Info("spreadsheet bootstrapped", "workspace", ws,
			"source", b.Source, "patched", b.Patched, "waiters", len(b.Waiters), "initial", len(b.Initial))
	}
}

func (h *Hub) schedule(surface store.Surface, ws string, l state.Loaded) {
	if h.opts.Writer == nil {
		return
	}
	h.opts.Writer.Schedule(surface, ws, fromLoaded(l))
}

func (h *Hub) remember(surface store.Surface, ws string, rec *store.Record) {
	if h.opts.Writer == nil {
		return
	}
	h.opts.Writer.Remember(surface, ws, *rec)
}

func (h *Hub) countPersistence(op, result string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.PersistenceTotal.WithLabelValues(op, result).Inc()
	}
}

func toLoaded(rec *store.Record) *state.Loaded {
	if rec == nil {
		return nil
	}
	return &state.Loaded{
		Data: rec.Data,
		Meta: state.Meta{
			Version:        rec.Version,
			LastModified:   rec.LastModified,
			LastModifiedBy: rec.LastModifiedBy,
		},
	}
}

func fromLoaded(l state.Loaded) store.Record {
	return store.Record{
		Data:           l.Data,
		Version:        l.Version,
		LastModified:   l.LastModified,
		LastModifiedBy: l.LastModifiedBy,
	}
}
