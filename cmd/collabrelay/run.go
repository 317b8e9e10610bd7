package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/cortexuvula/collabrelay/internal/api"
	"github.com/cortexuvula/collabrelay/internal/config"
	"github.com/cortexuvula/collabrelay/internal/discovery"
	"github.com/cortexuvula/collabrelay/internal/health"
	"github.com/cortexuvula/collabrelay/internal/logging"
	"github.com/cortexuvula/collabrelay/internal/logring"
	"github.com/cortexuvula/collabrelay/internal/metrics"
	"github.com/cortexuvula/collabrelay/internal/relay"
	"github.com/cortexuvula/collabrelay/internal/security"
	"github.com/cortexuvula/collabrelay/internal/store"
)

func connectionRate(cfg *config.Config) (rate.Limit, int) {
	perMinute := cfg.Security.RateLimit.ConnectionsPerMinute
	if perMinute <= 0 {
		perMinute = config.DefaultConfig().Security.RateLimit.ConnectionsPerMinute
	}
	return rate.Limit(float64(perMinute) / 60.0), perMinute
}

func runRelay(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	var ring *logring.RingBuffer
	if cfg.Logging.RingSize > 0 {
		ring = logring.NewRingBuffer(cfg.Logging.RingSize)
	}
	logger := logging.Setup(cfg.Logging, ring)
	defer logger.Close()

	startTime := time.Now()
	slog.Info("starting collabrelay",
		"version", Version,
		"listen", cfg.Relay.ListenAddress,
		"path", cfg.Relay.Path,
		"storage", cfg.Storage.Driver,
		"health", cfg.Health.ListenAddress,
	)

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	// Storage
	openCtx, openCancel := context.WithTimeout(context.Background(), cfg.Storage.LoadTimeout)
	gateway, err := store.Open(openCtx, cfg.Storage)
	openCancel()
	if err != nil {
		return fmt.Errorf("opening %s storage: %w", cfg.Storage.Driver, err)
	}
	defer gateway.Close()

	writer := store.NewWriter(gateway, cfg.Storage.SaveDebounce, cfg.Storage.SaveTimeout, m)
	writer.Start()

	// Hub
	hub := relay.NewHub(relay.Options{
		DefaultWorkspace:  cfg.Relay.DefaultWorkspace,
		IdleTimeout:       cfg.Rooms.IdleTimeout,
		SweepInterval:     cfg.Rooms.SweepInterval,
		DrawingReplaySize: cfg.Rooms.DrawingReplaySize,
		LoadTimeout:       cfg.Storage.LoadTimeout,
		Gateway:           gateway,
		Writer:            writer,
		Metrics:           m,
	})
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// The limiter always exists so rate limiting can be switched on by reload.
	rl := security.NewRateLimiter(connectionRate(cfg))
	defer rl.Stop()
	if cfg.Security.RateLimit.Enabled {
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
			"messages_per_second", cfg.Security.RateLimit.MessagesPerSecond,
		)
	}

	counters := relay.NewCounters()
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	handler := relay.NewHandler(cfg, hub, counters, rl, shutdownCtx)
	handler.Metrics = m

	relayMux := http.NewServeMux()
	relayMux.Handle(cfg.Relay.Path, handler)
	relayServer := &http.Server{
		Addr:              cfg.Relay.ListenAddress,
		Handler:           relayMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// reload applies the reloadable subset of the config file. It runs on
	// SIGHUP, on file change and from the admin API.
	var reloadMu sync.Mutex
	reload := func() error {
		reloadMu.Lock()
		defer reloadMu.Unlock()

		newCfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config reload failed: %w", err)
		}
		current := handler.GetConfig()
		for _, w := range config.IsReloadSafe(current, newCfg) {
			slog.Warn("config reload warning", "warning", w)
		}
		updated := current.ApplyReloadableFields(newCfg)
		if verbose {
			updated.Logging.Level = "debug"
		}

		handler.UpdateConfig(updated)
		hub.SetIdleTimeout(updated.Rooms.IdleTimeout)
		rl.UpdateRate(connectionRate(updated))
		logger.SetLevel(updated.Logging.Level)

		slog.Info("config reloaded successfully", "log_level", updated.Logging.Level)
		return nil
	}

	// Health and admin listener (loopback)
	var healthServer *http.Server
	if cfg.Health.Enabled {
		healthHandler := health.NewHandler(counters, gateway, Version, cfg.Health.Detailed)
		healthHandler.SetHubStats(func(ctx context.Context) (int, int, error) {
			st, err := hub.Status(ctx)
			return st.Rooms, st.PendingSaves, err
		})
		if m != nil {
			healthHandler.SetMetrics(m)
		}
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)
		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}
		if cfg.Admin.Enabled {
			healthMux.Handle("/api/v1/", api.New(api.Dependencies{
				Hub:        hub,
				Counters:   counters,
				RingBuffer: ring,
				Version:    Version,
				BuildTime:  BuildTime,
				GitCommit:  GitCommit,
				StartTime:  startTime,
				GetConfig:  handler.GetConfig,
				ReloadFunc: reload,
			}))
			slog.Info("admin API enabled", "address", cfg.Health.ListenAddress)
		}
		healthServer = &http.Server{
			Addr:              cfg.Health.ListenAddress,
			Handler:           healthMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	serverErr := make(chan error, 2)
	if healthServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("health server: %w", err)
			}
		}()
	}
	go func() {
		slog.Info("relay listening", "address", cfg.Relay.ListenAddress, "path", cfg.Relay.Path, "tls", cfg.Relay.TLS.Enabled)
		var err error
		if cfg.Relay.TLS.Enabled {
			err = relayServer.ListenAndServeTLS(cfg.Relay.TLS.CertFile, cfg.Relay.TLS.KeyFile)
		} else {
			err = relayServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("relay server: %w", err)
		}
	}()

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser, err = discovery.Advertise(cfg.Discovery, cfg.Relay.ListenAddress, cfg.Relay.Path, Version)
		if err != nil {
			slog.Warn("mdns advertisement failed, continuing without discovery", "error", err)
		}
	}

	var fileChanges <-chan struct{}
	if cfg.ConfigWatch && configPath != "" {
		w, err := watchConfig(configPath)
		if err != nil {
			slog.Warn("config watch unavailable, SIGHUP still reloads", "error", err)
		} else {
			defer w.Close()
			fileChanges = w.Changes()
		}
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go watchdog(watchdogCtx, hub)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var runErr error
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, reloading config")
				if err := reload(); err != nil {
					slog.Error("config reload failed", "error", err)
				}
				continue
			}
			slog.Info("received shutdown signal", "signal", sig.String())
			break loop
		case <-fileChanges:
			slog.Info("config file changed, reloading")
			if err := reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		case err := <-serverErr:
			runErr = err
			slog.Error("listener failed, shutting down", "error", err)
			break loop
		}
	}

	drainTimeout := handler.GetConfig().Relay.DrainTimeout
	slog.Info("draining connections", "active", counters.Active(), "drain_timeout", drainTimeout.String())
	watchdogCancel()
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	advertiser.Shutdown()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()

	// Stop accepting, then ask every session to close.
	relayServer.Shutdown(drainCtx)
	handler.StartDrain()
	waitForDrain(drainCtx, counters)
	if n := counters.Active(); n > 0 {
		slog.Warn("drain timeout reached, closing remaining connections", "remaining", n)
	}
	shutdownCancel()
	hubCancel()
	<-hub.Done()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), cfg.Storage.SaveTimeout)
	writer.Stop(saveCtx)
	saveCancel()

	if healthServer != nil {
		healthServer.Shutdown(drainCtx)
	}

	slog.Info("shutdown complete")
	return runErr
}

// waitForDrain returns once every session has gone or ctx ends.
func waitForDrain(ctx context.Context, counters *relay.Counters) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for counters.Active() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// watchdog pings systemd while the hub loop still answers.
func watchdog(ctx context.Context, hub *relay.Hub) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err := hub.Status(probeCtx)
			cancel()
			if err != nil {
				slog.Warn("hub loop unresponsive, skipping watchdog keepalive", "error", err)
				continue
			}
			sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			if err != nil {
				slog.Warn("failed to notify watchdog", "error", err)
			} else if sent {
				slog.Debug("watchdog keepalive sent")
			}
		}
	}
}
