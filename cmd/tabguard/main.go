package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/al-bashkir/tabguard/internal/config"
	"github.com/al-bashkir/tabguard/internal/daemon"
	"github.com/al-bashkir/tabguard/internal/tab"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "tabguard",
	Short: "Single-session-per-user enforcement across tabs",
	Long: `tabguard enforces one active session per user across browser tabs.

When a user signs in, the new tab broadcasts the login over redundant
transports; every other tab holding a session for the same user clears
its local session and returns to the login screen.

This binary operates in two modes:
  - relay: Run the cross-process announcement broker daemon
  - tab:   Run one simulated tab process (connects to the relay)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the announcement relay daemon",
	Long: `Start the relay daemon that fans login announcements out between
tab processes on this machine.

The daemon:
  - Listens on a Unix socket for announcement frames from tabs
  - Fans each frame out to every other connected tab
  - Serves /health and /status over HTTP

This mode is typically run as a systemd service.`,
	RunE: runRelay,
}

// overrideExitCode is set by subcommands (tab, check-config) so main() can
// call os.Exit() after cobra finishes.  This avoids calling os.Exit() inside
// RunE which would bypass deferred functions.  -1 means "use default".
var overrideExitCode = -1

var tabUserID string

var tabCmd = &cobra.Command{
	Use:   "tab",
	Short: "Run one simulated tab process",
	Long: `Run a single simulated dashboard tab.

The tab listens for new-login announcements over the shared signal file
and the relay socket. With --login it performs a login on startup, which
supersedes every other tab holding a session for the same user.

The tab runs until interrupted or until its own session is superseded.`,
	RunE: runTab,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting anything.

Checks for:
  - Valid YAML syntax
  - Required fields present
  - Logical consistency

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/tabguard/tabguard.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	tabCmd.Flags().StringVar(&tabUserID, "login", "",
		"Log in as this user id on startup and broadcast the new login")

	// Add subcommands
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(tabCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	// If a subcommand set a specific exit code, use it.
	// This is done outside RunE so deferred functions run properly.
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// loadConfig loads configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	return cfg, nil
}

// runRelay starts the relay daemon
func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	config.SetupLogging(&cfg.Log)

	slog.Info("starting tabguard relay",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)

	return daemon.New(cfg).Run()
}

// runTab runs one simulated tab process
func runTab(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	config.SetupLogging(&cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := tab.NewRunner(cfg)

	// Exit code is applied in main() after cobra finishes
	overrideExitCode = runner.Run(ctx, tab.Options{UserID: tabUserID})
	return nil
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("tabguard version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking configuration: %s\n\n", configFile)

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	fmt.Println("✅ Configuration is valid")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  HTTP Listen:     %s\n", cfg.Listen.HTTP)
	fmt.Printf("  Relay Socket:    %s\n", cfg.Listen.Socket)
	fmt.Printf("  Channel Name:    %s\n", cfg.Channel.Name)
	fmt.Printf("  Resend Delays:   %v ms\n", cfg.Channel.ResendDelaysMS)
	fmt.Printf("  Signal File:     %s\n", cfg.Signal.File)
	fmt.Printf("  Poll Interval:   %d ms\n", cfg.Signal.PollIntervalMS)
	fmt.Printf("  Cleanup Delay:   %d ms\n", cfg.Signal.CleanupDelayMS)
	fmt.Printf("  Publish Rate:    %.1f frames/s (burst %d)\n", cfg.Relay.PublishRate, cfg.Relay.PublishBurst)
	fmt.Printf("  Log Level:       %s\n", cfg.Log.Level)
	fmt.Printf("  Log Format:      %s\n", cfg.Log.Format)

	fmt.Println("\n✅ Ready to start")

	return nil
}
