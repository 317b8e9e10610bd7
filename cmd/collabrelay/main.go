package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexuvula/collabrelay/internal/config"
	"github.com/cortexuvula/collabrelay/internal/discovery"
	"github.com/cortexuvula/collabrelay/internal/setup"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "collabrelay",
		Short:        "Real-time workspace synchronization relay for chat, drawing, documents and spreadsheets",
		SilenceUsage: true,
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("collabrelay %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen:   %s%s\n", cfg.Relay.ListenAddress, cfg.Relay.Path)
			fmt.Printf("  Health:   %s (enabled: %v)\n", cfg.Health.ListenAddress, cfg.Health.Enabled)
			fmt.Printf("  Storage:  %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Compression)
			fmt.Printf("  Networks: %v\n", cfg.Security.AllowedNetworks)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:3002/health", "Health endpoint URL")

	var setupConfigPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.RunWizard(os.Stdin, os.Stdout, setup.WizardOptions{
				ConfigPath: setupConfigPath,
			})
		},
	}
	setupCmd.Flags().StringVar(&setupConfigPath, "config-path", "", "Override config file path (default: "+setup.DefaultConfigPath+")")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	var initPath string
	var initForce bool
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.WriteDefault(initPath, initForce, cmd.OutOrStdout())
		},
	}
	configInitCmd.Flags().StringVar(&initPath, "path", "./config.yaml", "Where to write the config")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	var discoverTimeout time.Duration
	var discoverService string
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "List relays advertised on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
			defer cancel()
			peers, err := discovery.Browse(ctx, discoverService, "local.")
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(peers)
		},
	}
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 3*time.Second, "How long to listen for announcements")
	discoverCmd.Flags().StringVar(&discoverService, "service", config.DefaultConfig().Discovery.Service, "mDNS service type")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, setupCmd, configCmd, discoverCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func checkHealth(url string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=collabrelay - Real-time Workspace Synchronization Relay
Documentation=https://github.com/cortexuvula/collabrelay
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=collabrelay
Group=collabrelay
ExecStartPre=/usr/local/bin/collabrelay validate --config /etc/collabrelay/config.yaml
ExecStart=/usr/local/bin/collabrelay start --config /etc/collabrelay/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s
# Leave room for the drain and the final save flush.
TimeoutStopSec=60s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/collabrelay
LogsDirectory=collabrelay
StateDirectory=collabrelay
LimitNOFILE=65535

# Spreadsheet snapshots are held in memory per live workspace.
MemoryMax=512M

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=collabrelay

[Install]
WantedBy=multi-user.target
`)
}
