// Package api serves the admin read API on the health listener.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/julienschmidt/httprouter"

	"github.com/cortexuvula/collabrelay/internal/config"
	"github.com/cortexuvula/collabrelay/internal/logging"
	"github.com/cortexuvula/collabrelay/internal/logring"
	"github.com/cortexuvula/collabrelay/internal/relay"
)

// Dependencies holds everything the API reads from.
type Dependencies struct {
	Hub        *relay.Hub
	Counters   *relay.Counters
	RingBuffer *logring.RingBuffer // optional
	Version    string
	BuildTime  string
	GitCommit  string
	StartTime  time.Time
	GetConfig  func() *config.Config
	ReloadFunc func() error // optional
	// QueryTimeout bounds each wait on the hub loop.
	QueryTimeout time.Duration
}

// API routes /api/v1 requests.
type API struct {
	deps   Dependencies
	router *httprouter.Router
}

// New creates the API and registers its routes.
func New(deps Dependencies) *API {
	if deps.QueryTimeout <= 0 {
		deps.QueryTimeout = 5 * time.Second
	}
	a := &API{deps: deps, router: httprouter.New()}

	a.router.GET("/api/v1/status", a.handleStatus)
	a.router.GET("/api/v1/connections", a.handleConnections)
	a.router.GET("/api/v1/config", a.handleConfig)
	a.router.POST("/api/v1/reload", a.handleReload)
	a.router.GET("/api/v1/logs", a.handleLogs)
	a.router.GET("/api/v1/workspaces", a.handleWorkspaces)
	a.router.GET("/api/v1/workspaces/:id/participants", a.handleParticipants)
	a.router.GET("/api/v1/workspaces/:id/cursors", a.handleCursors)
	a.router.GET("/api/v1/workspaces/:id/document", a.handleDocument)
	a.router.GET("/api/v1/workspaces/:id/spreadsheet", a.handleSpreadsheet)

	a.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	a.router.ServeHTTP(w, r)
}

func (a *API) queryCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.deps.QueryTimeout)
}

// hubError maps a failed hub query to a response.
func hubError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "relay is shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "relay did not answer in time")
	default:
		slog.Debug("admin query aborted", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeSnapshot writes v with an ETag over its encoding and answers a
// matching If-None-Match with 304.
func writeSnapshot(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding response: "+err.Error())
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n'))
}

// statusResponse is the JSON body for GET /api/v1/status.
type statusResponse struct {
	Uptime            string  `json:"uptime"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ActiveConnections int     `json:"active_connections"`
	TotalConnections  int64   `json:"total_connections"`
	TotalMessages     int64   `json:"total_messages"`
	Sessions          int     `json:"sessions"`
	Identities        int     `json:"identities"`
	Rooms             int     `json:"rooms"`
	PendingSaves      int     `json:"pending_saves"`
	MemoryMB          float64 `json:"memory_mb"`
	Goroutines        int     `json:"goroutines"`
	Version           string  `json:"version"`
	BuildTime         string  `json:"build_time"`
	GitCommit         string  `json:"git_commit"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := a.queryCtx(r)
	defer cancel()
	hub, err := a.deps.Hub.Status(ctx)
	if err != nil {
		hubError(w, err)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	uptime := time.Since(a.deps.StartTime)

	writeJSON(w, http.StatusOK, statusResponse{
		Uptime:            uptime.Round(time.Second).String(),
		UptimeSeconds:     uptime.Seconds(),
		ActiveConnections: a.deps.Counters.Active(),
		TotalConnections:  a.deps.Counters.Total(),
		TotalMessages:     a.deps.Counters.Messages(),
		Sessions:          hub.Sessions,
		Identities:        hub.Registered,
		Rooms:             hub.Rooms,
		PendingSaves:      hub.PendingSaves,
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
		Version:           a.deps.Version,
		BuildTime:         a.deps.BuildTime,
		GitCommit:         a.deps.GitCommit,
	})
}

// connectionEntry represents a per-IP connection entry.
type connectionEntry struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

func (a *API) handleConnections(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	byIP := a.deps.Counters.ByIP()
	entries := make([]connectionEntry, 0, len(byIP))
	for ip, count := range byIP {
		entries = append(entries, connectionEntry{IP: ip, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].IP < entries[j].IP
	})
	writeJSON(w, http.StatusOK, entries)
}

// logEntryResponse mirrors logring.LogEntry with a readable level.
type logEntryResponse struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if a.deps.RingBuffer == nil {
		writeError(w, http.StatusNotFound, "log capture is disabled (logging.ring_size is 0)")
		return
	}
	q := r.URL.Query()

	f := logring.Filter{Limit: 100, Workspace: q.Get("workspace")}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			f.Limit = n
		}
	}
	if v := q.Get("level"); v != "" {
		f.MinLevel = logging.ParseLevel(v)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = t
	}

	entries := a.deps.RingBuffer.Entries(f)
	resp := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = logEntryResponse{
			Time:    e.Time.Format(time.RFC3339Nano),
			Level:   e.Level.String(),
			Message: e.Message,
			Attrs:   e.Attrs,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if r.Header.Get("Content-Type") != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	if a.deps.ReloadFunc == nil {
		writeError(w, http.StatusNotImplemented, "reload not available")
		return
	}
	if err := a.deps.ReloadFunc(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
