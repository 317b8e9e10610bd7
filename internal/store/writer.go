package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexuvula/collabrelay/internal/metrics"
)

type recordKey struct {
	surface     Surface
	workspaceID string
}

// Writer batches saves. Each Schedule replaces the pending record for its
// surface and workspace; a background loop writes the latest pending
// records every debounce interval. Records whose content hash matches the
// last saved one at the same version are skipped.
type Writer struct {
	gateway  Gateway
	debounce time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending map[recordKey]Record
	saved   map[recordKey]savedState

	flushMu sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

type savedState struct {
	hash    Hash
	version int64
}

// NewWriter creates a writer over gateway. m may be nil.
func NewWriter(gateway Gateway, debounce, timeout time.Duration, m *metrics.Metrics) *Writer {
	if debounce <= 0 {
		debounce = 10 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Writer{
		gateway:  gateway,
		debounce: debounce,
		timeout:  timeout,
		metrics:  m,
		pending:  make(map[recordKey]Record),
		saved:    make(map[recordKey]savedState),
		stop:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (w *Writer) Start() {
	w.started = true
	w.wg.Add(1)
	go w.run()
	slog.Info("persistence writer started", "debounce", w.debounce)
}

// Stop ends the flush loop and writes whatever is still pending.
func (w *Writer) Stop(ctx context.Context) {
	if w.started {
		close(w.stop)
		w.wg.Wait()
		w.started = false
	}
	w.Flush(ctx)
	slog.Info("persistence writer stopped")
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.Flush(context.Background())
		}
	}
}

// Schedule queues rec to be saved. The record's Data must not be modified
// afterwards.
func (w *Writer) Schedule(surface Surface, workspaceID string, rec Record) {
	w.mu.Lock()
	w.pending[recordKey{surface, workspaceID}] = rec
	w.mu.Unlock()
}

// Remember marks data as already stored, typically right after a load, so
// an unchanged record is not written back.
func (w *Writer) Remember(surface Surface, workspaceID string, rec Record) {
	sum, err := Fingerprint(rec.Data)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.saved[recordKey{surface, workspaceID}] = savedState{hash: sum, version: rec.Version}
	w.mu.Unlock()
}

// Forget drops the bookkeeping for a workspace, e.g. after its room is
// evicted.
func (w *Writer) Forget(workspaceID string) {
	w.mu.Lock()
	for k := range w.saved {
		if k.workspaceID == workspaceID {
			delete(w.saved, k)
		}
	}
	w.mu.Unlock()
}

// Pending returns the number of records waiting to be written.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes every pending record now.
func (w *Writer) Flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[recordKey]Record)
	w.mu.Unlock()

	for k, rec := range batch {
		w.save(ctx, k, rec)
	}
}

func (w *Writer) save(ctx context.Context, k recordKey, rec Record) {
	sum, err := Fingerprint(rec.Data)
	if err != nil {
		slog.Error("persistence: unencodable record", "surface", k.surface, "workspace", k.workspaceID, "error", err)
		w.count("save", "error")
		return
	}

	w.mu.Lock()
	prev, ok := w.saved[k]
	w.mu.Unlock()
	if ok && prev.hash == sum && prev.version == rec.Version {
		w.count("save", "unchanged")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	start := time.Now()
	if err := w.gateway.Save(ctx, k.surface, k.workspaceID, rec); err != nil {
		slog.Error("persistence: save failed",
			"surface", k.surface, "workspace", k.workspaceID, "version", rec.Version, "error", err)
		w.count("save", "error")
		return
	}

	w.mu.Lock()
	w.saved[k] = savedState{hash: sum, version: rec.Version}
	w.mu.Unlock()
	w.count("save", "ok")
	slog.Debug("persistence: saved",
		"surface", k.surface, "workspace", k.workspaceID,
		"version", rec.Version, "hash", sum.String()[:12], "took", time.Since(start))
}

func (w *Writer) count(op, result string) {
	if w.metrics != nil {
		w.metrics.PersistenceTotal.WithLabelValues(op, result).Inc()
	}
}
