package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for collabrelay.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Storage    StorageConfig    `yaml:"storage"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Admin      AdminConfig      `yaml:"admin"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	// ConfigWatch reloads the file when it changes on disk, in addition
	// to SIGHUP.
	ConfigWatch bool `yaml:"config_watch"`
}

// RelayConfig contains the WebSocket listener settings.
type RelayConfig struct {
	ListenAddress    string        `yaml:"listen_address"`
	Path             string        `yaml:"path"`
	DefaultWorkspace string        `yaml:"default_workspace"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	SendBuffer       int           `yaml:"send_buffer"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	TLS              TLSConfig     `yaml:"tls"`
}

// TLSConfig contains optional TLS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RoomsConfig controls room lifetime and optional per-room history.
type RoomsConfig struct {
	// IdleTimeout evicts rooms with nobody attached after this long.
	// 0 keeps rooms for the life of the process.
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	DrawingReplaySize int           `yaml:"drawing_replay_size"`
}

// StorageConfig selects and configures the persistence gateway.
type StorageConfig struct {
	Driver       string        `yaml:"driver"` // sqlite, postgres, redis, bolt, memory
	Path         string        `yaml:"path"`
	DSN          string        `yaml:"dsn"`
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Compression  string        `yaml:"compression"`
	SaveDebounce time.Duration `yaml:"save_debounce"`
	LoadTimeout  time.Duration `yaml:"load_timeout"`
	SaveTimeout  time.Duration `yaml:"save_timeout"`
}

// SecurityConfig contains connection admission settings.
type SecurityConfig struct {
	AuthToken           string          `yaml:"auth_token"`
	// AllowedNetworks restricts clients to these CIDRs. The alias
	// "tailscale" expands to the tailnet ranges. Empty allows everyone.
	AllowedNetworks     []string        `yaml:"allowed_networks"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
	MessagesPerSecond    int  `yaml:"messages_per_second"`
	MessageBurst         int  `yaml:"message_burst"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	RingSize   int    `yaml:"ring_size"`
}

// HealthConfig contains health check endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// AdminConfig controls the read-only admin API on the health listener.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DiscoveryConfig controls mDNS advertisement of the relay.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
	Instance string `yaml:"instance"` // defaults to collabrelay-<hostname>
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			ListenAddress:    "0.0.0.0:3001",
			Path:             "/ws",
			DefaultWorkspace: "default",
			MaxMessageSize:   4194304, // 4MB, spreadsheet snapshots
			SendBuffer:       256,
			PingInterval:     25 * time.Second,
			PongTimeout:      20 * time.Second,
			WriteTimeout:     10 * time.Second,
			DrainTimeout:     30 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Rooms: RoomsConfig{
			IdleTimeout:       0,
			SweepInterval:     time.Minute,
			DrawingReplaySize: 0,
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			Path:         "/var/lib/collabrelay/collabrelay.db",
			Address:      "localhost:6379",
			Compression:  "zstd",
			SaveDebounce: 500 * time.Millisecond,
			LoadTimeout:  5 * time.Second,
			SaveTimeout:  10 * time.Second,
		},
		Security: SecurityConfig{
			MaxConnections:      1000,
			MaxConnectionsPerIP: 50,
			RateLimit: RateLimitConfig{
				Enabled:              true,
				ConnectionsPerMinute: 120,
				MessagesPerSecond:    100,
				MessageBurst:         200,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
			RingSize:   1000,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:3002",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
		Admin: AdminConfig{
			Enabled: true,
		},
		Discovery: DiscoveryConfig{
			Enabled: false,
			Service: "_collabrelay._tcp",
			Domain:  "local.",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'collabrelay config init' to create one)", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s (try running with sudo)", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Relay validation
	if c.Relay.ListenAddress == "" {
		return fmt.Errorf("relay.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Relay.ListenAddress); err != nil {
		return fmt.Errorf("relay.listen_address is invalid: %w", err)
	}
	if !strings.HasPrefix(c.Relay.Path, "/") {
		return fmt.Errorf("relay.path must start with /")
	}
	if c.Relay.DefaultWorkspace == "" {
		return fmt.Errorf("relay.default_workspace is required")
	}
	if c.Relay.MaxMessageSize <= 0 {
		return fmt.Errorf("relay.max_message_size must be positive")
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("relay.send_buffer must be positive")
	}
	if c.Relay.DrainTimeout <= 0 {
		return fmt.Errorf("relay.drain_timeout must be positive")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be positive")
	}
	if c.Relay.PingInterval < 0 || c.Relay.PongTimeout < 0 {
		return fmt.Errorf("relay.ping_interval and relay.pong_timeout must not be negative")
	}

	// Upper bounds
	if c.Relay.MaxMessageSize > 67108864 {
		return fmt.Errorf("relay.max_message_size must not exceed 67108864 (64MB)")
	}
	if c.Relay.SendBuffer > 65536 {
		return fmt.Errorf("relay.send_buffer must not exceed 65536")
	}
	if c.Relay.DrainTimeout > 5*time.Minute {
		return fmt.Errorf("relay.drain_timeout must not exceed 5m")
	}
	if c.Relay.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("relay.write_timeout must not exceed 5m")
	}

	// TLS validation
	if c.Relay.TLS.Enabled {
		if c.Relay.TLS.CertFile == "" {
			return fmt.Errorf("relay.tls.cert_file is required when TLS is enabled")
		}
		if c.Relay.TLS.KeyFile == "" {
			return fmt.Errorf("relay.tls.key_file is required when TLS is enabled")
		}
	}

	// Rooms validation
	if c.Rooms.IdleTimeout < 0 {
		return fmt.Errorf("rooms.idle_timeout must not be negative")
	}
	if c.Rooms.IdleTimeout > 0 && c.Rooms.SweepInterval <= 0 {
		return fmt.Errorf("rooms.sweep_interval must be positive when rooms.idle_timeout is set")
	}
	if c.Rooms.DrawingReplaySize < 0 || c.Rooms.DrawingReplaySize > 100000 {
		return fmt.Errorf("rooms.drawing_replay_size must be between 0 and 100000")
	}

	// Storage validation
	switch c.Storage.Driver {
	case "sqlite", "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	case "redis":
		if c.Storage.Address == "" {
			return fmt.Errorf("storage.address is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres, redis, bolt, memory")
	}
	switch c.Storage.Compression {
	case "zstd", "lz4", "none":
	default:
		return fmt.Errorf("storage.compression must be one of: zstd, lz4, none")
	}
	if c.Storage.SaveDebounce <= 0 {
		return fmt.Errorf("storage.save_debounce must be positive")
	}
	if c.Storage.LoadTimeout <= 0 || c.Storage.SaveTimeout <= 0 {
		return fmt.Errorf("storage.load_timeout and storage.save_timeout must be positive")
	}

	// Security validation
	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	for _, n := range c.Security.AllowedNetworks {
		if n == "tailscale" {
			continue
		}
		if _, _, err := net.ParseCIDR(n); err != nil {
			return fmt.Errorf("security.allowed_networks: invalid CIDR %q", n)
		}
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
		}
		if c.Security.RateLimit.MessagesPerSecond <= 0 {
			return fmt.Errorf("security.rate_limit.messages_per_second must be positive")
		}
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.RingSize < 0 {
		return fmt.Errorf("logging.ring_size must not be negative")
	}

	// Health validation
	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Health.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing metrics")
		}
		if c.Relay.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("relay.listen_address and health.listen_address must be different")
		}
	}
	if c.Admin.Enabled && !c.Health.Enabled {
		return fmt.Errorf("admin.enabled requires health.enabled (the admin API shares its listener)")
	}

	// Discovery validation
	if c.Discovery.Enabled {
		if !strings.HasPrefix(c.Discovery.Service, "_") || !strings.Contains(c.Discovery.Service, "._") {
			return fmt.Errorf("discovery.service must look like _name._tcp")
		}
		if c.Discovery.Domain == "" {
			return fmt.Errorf("discovery.domain is required when discovery is enabled")
		}
	}

	return nil
}

// applyEnvOverrides applies COLLABRELAY_ prefixed environment variables.
// Convention: COLLABRELAY_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"COLLABRELAY_RELAY_LISTEN_ADDRESS":    func(v string) { cfg.Relay.ListenAddress = v },
		"COLLABRELAY_RELAY_PATH":              func(v string) { cfg.Relay.Path = v },
		"COLLABRELAY_RELAY_DEFAULT_WORKSPACE": func(v string) { cfg.Relay.DefaultWorkspace = v },
		"COLLABRELAY_RELAY_MAX_MESSAGE_SIZE":  func(v string) { cfg.Relay.MaxMessageSize = parseInt64(v, cfg.Relay.MaxMessageSize) },
		"COLLABRELAY_RELAY_SEND_BUFFER":       func(v string) { cfg.Relay.SendBuffer = parseInt(v, cfg.Relay.SendBuffer) },
		"COLLABRELAY_RELAY_PING_INTERVAL":     func(v string) { cfg.Relay.PingInterval = parseDuration(v, cfg.Relay.PingInterval) },
		"COLLABRELAY_RELAY_PONG_TIMEOUT":      func(v string) { cfg.Relay.PongTimeout = parseDuration(v, cfg.Relay.PongTimeout) },
		"COLLABRELAY_RELAY_WRITE_TIMEOUT":     func(v string) { cfg.Relay.WriteTimeout = parseDuration(v, cfg.Relay.WriteTimeout) },
		"COLLABRELAY_RELAY_DRAIN_TIMEOUT":     func(v string) { cfg.Relay.DrainTimeout = parseDuration(v, cfg.Relay.DrainTimeout) },
		"COLLABRELAY_RELAY_ALLOWED_ORIGINS":   func(v string) { cfg.Relay.AllowedOrigins = parseList(v) },
		"COLLABRELAY_ROOMS_IDLE_TIMEOUT":      func(v string) { cfg.Rooms.IdleTimeout = parseDuration(v, cfg.Rooms.IdleTimeout) },
		"COLLABRELAY_ROOMS_DRAWING_REPLAY_SIZE": func(v string) {
			cfg.Rooms.DrawingReplaySize = parseInt(v, cfg.Rooms.DrawingReplaySize)
		},
		"COLLABRELAY_STORAGE_DRIVER":                func(v string) { cfg.Storage.Driver = v },
		"COLLABRELAY_STORAGE_PATH":                  func(v string) { cfg.Storage.Path = v },
		"COLLABRELAY_STORAGE_DSN":                   func(v string) { cfg.Storage.DSN = v },
		"COLLABRELAY_STORAGE_ADDRESS":               func(v string) { cfg.Storage.Address = v },
		"COLLABRELAY_STORAGE_PASSWORD":              func(v string) { cfg.Storage.Password = v },
		"COLLABRELAY_STORAGE_DB":                    func(v string) { cfg.Storage.DB = parseInt(v, cfg.Storage.DB) },
		"COLLABRELAY_STORAGE_COMPRESSION":           func(v string) { cfg.Storage.Compression = v },
		"COLLABRELAY_STORAGE_SAVE_DEBOUNCE":         func(v string) { cfg.Storage.SaveDebounce = parseDuration(v, cfg.Storage.SaveDebounce) },
		"COLLABRELAY_SECURITY_AUTH_TOKEN":           func(v string) { cfg.Security.AuthToken = v },
		"COLLABRELAY_SECURITY_ALLOWED_NETWORKS":     func(v string) { cfg.Security.AllowedNetworks = parseList(v) },
		"COLLABRELAY_SECURITY_MAX_CONNECTIONS":      func(v string) { cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections) },
		"COLLABRELAY_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) {
			cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP)
		},
		"COLLABRELAY_SECURITY_RATE_LIMIT_ENABLED": func(v string) { cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled) },
		"COLLABRELAY_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"COLLABRELAY_SECURITY_RATE_LIMIT_MESSAGES_PER_SECOND": func(v string) {
			cfg.Security.RateLimit.MessagesPerSecond = parseInt(v, cfg.Security.RateLimit.MessagesPerSecond)
		},
		"COLLABRELAY_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"COLLABRELAY_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"COLLABRELAY_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"COLLABRELAY_HEALTH_ENABLED":        func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"COLLABRELAY_HEALTH_LISTEN_ADDRESS": func(v string) { cfg.Health.ListenAddress = v },
		"COLLABRELAY_MONITORING_METRICS_ENABLED": func(v string) {
			cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled)
		},
		"COLLABRELAY_ADMIN_ENABLED":     func(v string) { cfg.Admin.Enabled = parseBool(v, cfg.Admin.Enabled) },
		"COLLABRELAY_DISCOVERY_ENABLED": func(v string) { cfg.Discovery.Enabled = parseBool(v, cfg.Discovery.Enabled) },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: listeners, path, tls, storage, discovery.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Security.RateLimit = newCfg.Security.RateLimit
	updated.Security.AuthToken = newCfg.Security.AuthToken
	updated.Security.AllowedNetworks = newCfg.Security.AllowedNetworks
	updated.Security.MaxConnections = newCfg.Security.MaxConnections
	updated.Security.MaxConnectionsPerIP = newCfg.Security.MaxConnectionsPerIP
	updated.Logging.Level = newCfg.Logging.Level
	updated.Relay.MaxMessageSize = newCfg.Relay.MaxMessageSize
	updated.Relay.AllowedOrigins = newCfg.Relay.AllowedOrigins
	updated.Rooms.IdleTimeout = newCfg.Rooms.IdleTimeout
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Relay.ListenAddress != new.Relay.ListenAddress {
		warnings = append(warnings, "relay.listen_address requires restart")
	}
	if old.Relay.Path != new.Relay.Path {
		warnings = append(warnings, "relay.path requires restart")
	}
	if !reflect.DeepEqual(old.Relay.TLS, new.Relay.TLS) {
		warnings = append(warnings, "relay.tls requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	if !reflect.DeepEqual(old.Storage, new.Storage) {
		warnings = append(warnings, "storage requires restart")
	}
	if !reflect.DeepEqual(old.Discovery, new.Discovery) {
		warnings = append(warnings, "discovery requires restart")
	}
	return warnings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	s = strings.ToLower(s)
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
