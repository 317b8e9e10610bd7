package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/cortexuvula/collabrelay/internal/metrics"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status            string   `json:"status"`
	Uptime            string   `json:"uptime"`
	ActiveConnections int      `json:"active_connections"`
	StorageReachable  bool     `json:"storage_reachable"`
	Version           string   `json:"version,omitempty"`
	Timestamp         string   `json:"timestamp"`
	Details           *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalConnections int64   `json:"total_connections"`
	TotalMessages    int64   `json:"total_messages"`
	Rooms            int     `json:"rooms"`
	PendingSaves     int     `json:"pending_saves"`
	Goroutines       int     `json:"goroutines"`
	MemoryMB         float64 `json:"memory_mb"`
}

// Counters reports connection totals.
type Counters interface {
	Active() int
	Total() int64
	Messages() int64
}

// Pinger is satisfied by every storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HubStats is called for the detailed view. It may be nil.
type HubStats func(ctx context.Context) (rooms, pendingSaves int, err error)

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	counters  Counters
	storage   Pinger
	hubStats  HubStats
	metrics   *metrics.Metrics // optional, nil if metrics disabled
	version   string
	detailed  bool
	timeout   time.Duration
}

// NewHandler creates a new health check handler. storage may be nil when
// persistence is disabled.
func NewHandler(counters Counters, storage Pinger, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		counters:  counters,
		storage:   storage,
		version:   version,
		detailed:  detailed,
		timeout:   5 * time.Second,
	}
}

// SetMetrics sets the optional Prometheus metrics.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// SetHubStats attaches room and save-queue figures to detailed responses.
func (h *Handler) SetHubStats(fn HubStats) {
	h.hubStats = fn
}

// ServeHTTP handles health check requests. The health listener is separate
// from the relay listener so local monitoring can reach it without passing
// the network allowlist.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	storageOK := h.checkStorage(ctx)
	if h.metrics != nil {
		if storageOK {
			h.metrics.StorageUp.Set(1)
		} else {
			h.metrics.StorageUp.Set(0)
		}
	}

	status := "ok"
	httpCode := http.StatusOK
	if !storageOK {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:            status,
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveConnections: h.counters.Active(),
		StorageReachable:  storageOK,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalConnections: h.counters.Total(),
			TotalMessages:    h.counters.Messages(),
			Goroutines:       runtime.NumGoroutine(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
		}
		if h.hubStats != nil {
			rooms, pending, err := h.hubStats(ctx)
			if err != nil {
				slog.Debug("hub stats unavailable", "error", err)
			}
			resp.Details.Rooms = rooms
			resp.Details.PendingSaves = pending
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) checkStorage(ctx context.Context) bool {
	if h.storage == nil {
		return true
	}
	if err := h.storage.Ping(ctx); err != nil {
		slog.Debug("storage unreachable", "error", err)
		return false
	}
	return true
}
