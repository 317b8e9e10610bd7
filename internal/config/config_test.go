package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Relay.ListenAddress == "" {
		t.Error("default listen_address should not be empty")
	}
	if cfg.Relay.Path != "/ws" {
		t.Errorf("default path = %q, want %q", cfg.Relay.Path, "/ws")
	}
	if cfg.Relay.DefaultWorkspace != "default" {
		t.Errorf("default workspace = %q, want %q", cfg.Relay.DefaultWorkspace, "default")
	}
	if cfg.Relay.DrainTimeout != 30*time.Second {
		t.Errorf("default drain_timeout = %v, want %v", cfg.Relay.DrainTimeout, 30*time.Second)
	}
	if cfg.Rooms.IdleTimeout != 0 {
		t.Errorf("default idle_timeout = %v, want 0 (disabled)", cfg.Rooms.IdleTimeout)
	}
	if cfg.Rooms.DrawingReplaySize != 0 {
		t.Errorf("default drawing_replay_size = %d, want 0", cfg.Rooms.DrawingReplaySize)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default storage.driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Health.ListenAddress != "127.0.0.1:3002" {
		t.Errorf("default health.listen_address = %q, want %q", cfg.Health.ListenAddress, "127.0.0.1:3002")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
relay:
  listen_address: "127.0.0.1:4000"
  path: "/sync"
  default_workspace: "lobby"
  drain_timeout: "5s"
  max_message_size: 2097152
rooms:
  idle_timeout: "30m"
  drawing_replay_size: 500
storage:
  driver: "memory"
  compression: "lz4"
security:
  auth_token: "test-token"
  max_connections: 500
  max_connections_per_ip: 5
  rate_limit:
    enabled: false
logging:
  level: "debug"
  format: "text"
health:
  enabled: true
  listen_address: "127.0.0.1:4001"
  endpoint: "/health"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Relay.ListenAddress != "127.0.0.1:4000" {
		t.Errorf("listen_address = %q, want %q", cfg.Relay.ListenAddress, "127.0.0.1:4000")
	}
	if cfg.Relay.Path != "/sync" || cfg.Relay.DefaultWorkspace != "lobby" {
		t.Errorf("path = %q workspace = %q", cfg.Relay.Path, cfg.Relay.DefaultWorkspace)
	}
	if cfg.Relay.DrainTimeout != 5*time.Second {
		t.Errorf("drain_timeout = %v, want %v", cfg.Relay.DrainTimeout, 5*time.Second)
	}
	if cfg.Rooms.IdleTimeout != 30*time.Minute || cfg.Rooms.DrawingReplaySize != 500 {
		t.Errorf("rooms = %+v", cfg.Rooms)
	}
	if cfg.Storage.Driver != "memory" || cfg.Storage.Compression != "lz4" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Security.AuthToken != "test-token" {
		t.Errorf("auth_token = %q, want %q", cfg.Security.AuthToken, "test-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Security.RateLimit.Enabled {
		t.Error("rate_limit.enabled should be false")
	}
	// Unset fields keep their defaults.
	if cfg.Relay.SendBuffer != 256 {
		t.Errorf("send_buffer = %d, want default 256", cfg.Relay.SendBuffer)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config init") {
		t.Errorf("Load(missing) error = %v, want hint about config init", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load('') error: %v", err)
	}
	if cfg.Relay.Path != "/ws" {
		t.Errorf("path = %q, want default", cfg.Relay.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COLLABRELAY_RELAY_LISTEN_ADDRESS", "0.0.0.0:9000")
	t.Setenv("COLLABRELAY_SECURITY_AUTH_TOKEN", "env-token")
	t.Setenv("COLLABRELAY_LOGGING_LEVEL", "debug")
	t.Setenv("COLLABRELAY_STORAGE_DRIVER", "memory")
	t.Setenv("COLLABRELAY_ROOMS_IDLE_TIMEOUT", "10m")
	t.Setenv("COLLABRELAY_RELAY_ALLOWED_ORIGINS", "example.com, *.example.org")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Relay.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("listen_address = %q, want env override", cfg.Relay.ListenAddress)
	}
	if cfg.Security.AuthToken != "env-token" {
		t.Errorf("auth_token = %q, want %q", cfg.Security.AuthToken, "env-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("storage.driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Rooms.IdleTimeout != 10*time.Minute {
		t.Errorf("idle_timeout = %v, want 10m", cfg.Rooms.IdleTimeout)
	}
	if len(cfg.Relay.AllowedOrigins) != 2 || cfg.Relay.AllowedOrigins[1] != "*.example.org" {
		t.Errorf("allowed_origins = %v", cfg.Relay.AllowedOrigins)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid default",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "empty listen_address",
			modify:  func(c *Config) { c.Relay.ListenAddress = "" },
			wantErr: "relay.listen_address is required",
		},
		{
			name:    "invalid listen_address",
			modify:  func(c *Config) { c.Relay.ListenAddress = "not-a-host-port" },
			wantErr: "relay.listen_address is invalid",
		},
		{
			name:    "relative path",
			modify:  func(c *Config) { c.Relay.Path = "ws" },
			wantErr: "relay.path must start with /",
		},
		{
			name:    "empty default workspace",
			modify:  func(c *Config) { c.Relay.DefaultWorkspace = "" },
			wantErr: "relay.default_workspace is required",
		},
		{
			name:    "zero max_message_size",
			modify:  func(c *Config) { c.Relay.MaxMessageSize = 0 },
			wantErr: "relay.max_message_size must be positive",
		},
		{
			name:    "zero send_buffer",
			modify:  func(c *Config) { c.Relay.SendBuffer = 0 },
			wantErr: "relay.send_buffer must be positive",
		},
		{
			name:    "idle timeout without sweep",
			modify:  func(c *Config) { c.Rooms.IdleTimeout = time.Minute; c.Rooms.SweepInterval = 0 },
			wantErr: "rooms.sweep_interval must be positive",
		},
		{
			name:    "unknown storage driver",
			modify:  func(c *Config) { c.Storage.Driver = "mongo" },
			wantErr: "storage.driver must be one of",
		},
		{
			name:    "postgres without dsn",
			modify:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: "storage.dsn is required",
		},
		{
			name:    "bolt without path",
			modify:  func(c *Config) { c.Storage.Driver = "bolt"; c.Storage.Path = "" },
			wantErr: "storage.path is required for the bolt driver",
		},
		{
			name:    "unknown compression",
			modify:  func(c *Config) { c.Storage.Compression = "gzip" },
			wantErr: "storage.compression must be one of",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level must be one of",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "csv" },
			wantErr: "logging.format must be one of",
		},
		{
			name:    "tls enabled without cert",
			modify:  func(c *Config) { c.Relay.TLS.Enabled = true },
			wantErr: "relay.tls.cert_file is required",
		},
		{
			name: "tls enabled without key",
			modify: func(c *Config) {
				c.Relay.TLS.Enabled = true
				c.Relay.TLS.CertFile = "/path/to/cert.pem"
			},
			wantErr: "relay.tls.key_file is required",
		},
		{
			name:    "zero max_connections",
			modify:  func(c *Config) { c.Security.MaxConnections = 0 },
			wantErr: "security.max_connections must be positive",
		},
		{
			name:    "bad allowed network",
			modify:  func(c *Config) { c.Security.AllowedNetworks = []string{"tailscale", "10.0.0.0/33"} },
			wantErr: "security.allowed_networks: invalid CIDR",
		},
		{
			name:    "tailscale alias and cidr",
			modify:  func(c *Config) { c.Security.AllowedNetworks = []string{"tailscale", "192.168.0.0/16"} },
			wantErr: "",
		},
		{
			name:    "public health listener",
			modify:  func(c *Config) { c.Health.ListenAddress = "10.0.0.1:3002" },
			wantErr: "health.listen_address should bind to a loopback address",
		},
		{
			name:    "admin without health",
			modify:  func(c *Config) { c.Health.Enabled = false },
			wantErr: "admin.enabled requires health.enabled",
		},
		{
			name:    "bad discovery service",
			modify:  func(c *Config) { c.Discovery.Enabled = true; c.Discovery.Service = "collabrelay" },
			wantErr: "discovery.service must look like",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestIsReloadSafe(t *testing.T) {
	old := DefaultConfig()
	new := DefaultConfig()

	// Same config: no warnings
	warnings := IsReloadSafe(old, new)
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}

	new.Relay.ListenAddress = "0.0.0.0:9090"
	warnings = IsReloadSafe(old, new)
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}

	new.Storage.Driver = "memory"
	warnings = IsReloadSafe(old, new)
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
}

func TestApplyReloadableFields(t *testing.T) {
	old := DefaultConfig()
	new := DefaultConfig()
	new.Security.AuthToken = "new-token"
	new.Logging.Level = "debug"
	new.Relay.MaxMessageSize = 2097152
	new.Rooms.IdleTimeout = time.Hour
	new.Relay.ListenAddress = "0.0.0.0:1"

	got := old.ApplyReloadableFields(new)

	if got.Security.AuthToken != "new-token" {
		t.Errorf("auth_token not reloaded")
	}
	if got.Logging.Level != "debug" {
		t.Errorf("log level not reloaded")
	}
	if got.Relay.MaxMessageSize != 2097152 {
		t.Errorf("max_message_size not reloaded")
	}
	if got.Rooms.IdleTimeout != time.Hour {
		t.Errorf("idle_timeout not reloaded")
	}
	if got.Relay.ListenAddress == "0.0.0.0:1" {
		t.Errorf("listen_address must not be reloaded")
	}
	if old.Security.AuthToken != "" {
		t.Errorf("original config was modified")
	}
}
