package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/cortexuvula/collabrelay/internal/config"
	"github.com/cortexuvula/collabrelay/internal/metrics"
	"github.com/cortexuvula/collabrelay/internal/protocol"
	"github.com/cortexuvula/collabrelay/internal/security"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handler accepts collaboration clients over WebSocket and feeds their
// frames to the hub.
type Handler struct {
	Hub         *Hub
	Counters    *Counters
	RateLimiter *security.RateLimiter // optional
	Metrics     *metrics.Metrics      // optional
	ShutdownCtx context.Context       // cancelled on server shutdown

	// drainCtx is cancelled when the server begins draining connections.
	// Active connections watch this to send graceful close frames.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	// mu protects config and networks during hot-reload
	mu       sync.RWMutex
	config   *config.Config
	networks *security.Networks
}

// NewHandler creates the relay's WebSocket handler.
func NewHandler(cfg *config.Config, hub *Hub, counters *Counters, rl *security.RateLimiter, shutdownCtx context.Context) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())
	h := &Handler{
		Hub:         hub,
		Counters:    counters,
		RateLimiter: rl,
		ShutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
	}
	h.UpdateConfig(cfg)
	return h
}

// StartDrain signals all active connections to begin graceful shutdown.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateConfig swaps the config (called on reload). An unparsable network
// allowlist keeps the previous one.
func (h *Handler) UpdateConfig(cfg *config.Config) {
	nets, err := security.ParseNetworks(cfg.Security.AllowedNetworks)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
	if err != nil {
		slog.Error("ignoring invalid security.allowed_networks", "error", err)
		return
	}
	h.networks = nets
}

func (h *Handler) allowedNetworks() *security.Networks {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.networks
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()

	// 1. Network allowlist
	if !h.allowedNetworks().Allows(r.RemoteAddr) {
		slog.Warn("rejected connection outside allowed networks", "remote_addr", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	clientIP := security.ExtractClientIP(r.RemoteAddr)

	// 2. Optional auth token check (header first, query param fallback)
	if cfg.Security.AuthToken != "" {
		token, fromQuery := security.RequestToken(r)
		if fromQuery {
			slog.Warn("auth token provided via query parameter; use Authorization header instead", "client_ip", clientIP)
		}
		if !security.TokenMatch(token, cfg.Security.AuthToken) {
			slog.Warn("rejected invalid auth token", "client_ip", clientIP)
			h.countError("auth_rejected")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	// 3. Connection rate limit
	if cfg.Security.RateLimit.Enabled && h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		slog.Warn("rate limit exceeded", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	if !isWebSocketUpgrade(r) {
		http.Error(w, "Upgrade Required", http.StatusUpgradeRequired)
		return
	}

	// 4. Connection limits (atomic check-and-admit)
	if reason := h.Counters.TryAdmit(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if reason == ReasonMaxConnections {
			slog.Warn("max connections reached", "current", h.Counters.Active(), "max", cfg.Security.MaxConnections)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Counters.ActiveForIP(clientIP))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	}
	release := func() {
		h.Counters.Release(clientIP)
		if h.Metrics != nil {
			h.Metrics.ActiveConnections.Dec()
		}
	}

	// 5. Accept
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: cfg.Relay.AllowedOrigins,
	})
	if err != nil {
		release()
		h.countError("accept_failure")
		slog.Error("failed to accept client WebSocket", "client_ip", clientIP, "error", err)
		return
	}
	ws.SetReadLimit(cfg.Relay.MaxMessageSize)

	conn := NewConn(uuid.NewString(), clientIP, cfg.Relay.SendBuffer)

	// Use ShutdownCtx (not r.Context()) as the parent so hijacked
	// connections still observe server shutdown.
	connCtx, connCancel := context.WithCancel(h.ShutdownCtx)
	defer connCancel()

	if !h.Hub.Attach(conn) {
		ws.Close(websocket.StatusGoingAway, "server shutting down")
		release()
		return
	}
	start := time.Now()
	slog.Info("connection established", "conn", conn.ID, "client_ip", clientIP)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump(connCtx, ws, cfg.Relay.WriteTimeout)
	}()

	// Start keepalive pings to detect dead connections.
	// Ping must run concurrently with Read per coder/websocket docs.
	if cfg.Relay.PingInterval > 0 {
		go keepAlive(connCtx, ws, cfg.Relay.PingInterval, cfg.Relay.PongTimeout, connCancel)
	}

	// Drain watcher: a graceful close frame makes Read return, which runs
	// the normal teardown below.
	go func() {
		select {
		case <-h.drainCtx.Done():
			ws.Close(websocket.StatusGoingAway, "server shutting down")
		case <-connCtx.Done():
		}
	}()

	// Per-connection message rate limiter
	var msgLimiter *rate.Limiter
	if rl := cfg.Security.RateLimit; rl.Enabled && rl.MessagesPerSecond > 0 {
		burst := rl.MessageBurst
		if burst < rl.MessagesPerSecond {
			burst = rl.MessagesPerSecond
		}
		msgLimiter = rate.NewLimiter(rate.Limit(rl.MessagesPerSecond), burst)
	}

	h.readLoop(connCtx, ws, conn, msgLimiter)

	if !h.Hub.Detach(conn) {
		connCancel()
	}
	<-writerDone
	release()
	slog.Info("connection closed", "conn", conn.ID, "client_ip", clientIP, "duration", time.Since(start).String())
}

// readLoop decodes client frames and hands them to the hub until the
// transport fails or ctx ends.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn, msgLimiter *rate.Limiter) {
	for {
		// No read deadline here: keepalive pings detect dead peers and an
		// idle collaborator is still a live one.
		msgType, frame, err := ws.Read(ctx)
		if err != nil {
			slog.Debug("read stopped", "conn", conn.ID, "reason", err)
			return
		}
		if msgLimiter != nil {
			if err := msgLimiter.Wait(ctx); err != nil {
				slog.Debug("message rate limit", "conn", conn.ID, "reason", err)
				return
			}
		}
		h.Counters.CountMessage()

		if msgType != websocket.MessageText {
			h.Hub.Drop(conn.ID, "", protocol.ErrMalformed)
			continue
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			h.Hub.Drop(conn.ID, env.Event, err)
			continue
		}
		if !h.Hub.Deliver(conn, env) {
			return
		}
	}
}

func (h *Handler) countError(kind string) {
	if h.Metrics != nil {
		h.Metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// keepAlive sends periodic WebSocket pings to detect dead connections.
// If a ping fails or times out, it closes the connection and cancels ctx.
func keepAlive(ctx context.Context, conn *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

// isWebSocketUpgrade returns true if the request is a WebSocket upgrade per RFC 6455 §4.1.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContains(r.Header, "Connection", "upgrade")
}

// headerContains checks whether the header key contains the given value
// as a comma-separated token (case-insensitive).
func headerContains(h http.Header, key, value string) bool {
	for _, v := range h[http.CanonicalHeaderKey(key)] {
		for _, s := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(s), value) {
				return true
			}
		}
	}
	return false
}
