package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// configResponse is the JSON body for GET /api/v1/config. Secrets are
// reported only as set or unset.
type configResponse struct {
	Reloadable configReloadable `json:"reloadable"`
	ReadOnly   configReadOnly   `json:"read_only"`
}

type configReloadable struct {
	LogLevel            string   `json:"log_level"`
	MaxConnections      int      `json:"max_connections"`
	MaxConnectionsPerIP int      `json:"max_connections_per_ip"`
	MaxMessageSize      int64    `json:"max_message_size"`
	AllowedOrigins      []string `json:"allowed_origins"`
	AllowedNetworks     []string `json:"allowed_networks"`
	RateLimitEnabled    bool     `json:"rate_limit_enabled"`
	ConnectionsPerMin   int      `json:"connections_per_minute"`
	MessagesPerSecond   int      `json:"messages_per_second"`
	RoomIdleTimeout     string   `json:"room_idle_timeout"`
	AuthTokenSet        bool     `json:"auth_token_set"`
}

type configReadOnly struct {
	ListenAddress    string `json:"listen_address"`
	Path             string `json:"path"`
	DefaultWorkspace string `json:"default_workspace"`
	HealthAddress    string `json:"health_address"`
	StorageDriver    string `json:"storage_driver"`
	Compression      string `json:"compression"`
	TLSEnabled       bool   `json:"tls_enabled"`
	Discovery        bool   `json:"discovery"`
}

func (a *API) handleConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	cfg := a.deps.GetConfig()

	writeJSON(w, http.StatusOK, configResponse{
		Reloadable: configReloadable{
			LogLevel:            cfg.Logging.Level,
			MaxConnections:      cfg.Security.MaxConnections,
			MaxConnectionsPerIP: cfg.Security.MaxConnectionsPerIP,
			MaxMessageSize:      cfg.Relay.MaxMessageSize,
			AllowedOrigins:      cfg.Relay.AllowedOrigins,
			AllowedNetworks:     cfg.Security.AllowedNetworks,
			RateLimitEnabled:    cfg.Security.RateLimit.Enabled,
			ConnectionsPerMin:   cfg.Security.RateLimit.ConnectionsPerMinute,
			MessagesPerSecond:   cfg.Security.RateLimit.MessagesPerSecond,
			RoomIdleTimeout:     cfg.Rooms.IdleTimeout.String(),
			AuthTokenSet:        cfg.Security.AuthToken != "",
		},
		ReadOnly: configReadOnly{
			ListenAddress:    cfg.Relay.ListenAddress,
			Path:             cfg.Relay.Path,
			DefaultWorkspace: cfg.Relay.DefaultWorkspace,
			HealthAddress:    cfg.Health.ListenAddress,
			StorageDriver:    cfg.Storage.Driver,
			Compression:      cfg.Storage.Compression,
			TLSEnabled:       cfg.Relay.TLS.Enabled,
			Discovery:        cfg.Discovery.Enabled,
		},
	})
}
