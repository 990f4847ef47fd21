package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilnproject/kiln/pkg/config"
	"github.com/kilnproject/kiln/pkg/stores"
	"github.com/kilnproject/kiln/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kiln",
		Short: "Kiln - Asynchronous Resource Lifecycle Engine",
		Long: `Kiln drives long-running resource lifecycle actions against remote
backends: one mutating call, then cooperative polling until the remote
side reaches a terminal status.

Features:
  - Strict (action, status) state machine per resource
  - Cooperative task runner with timeouts and cancellation
  - Bounded-concurrency scheduler with transport-level retries
  - SQLite-backed state and event history
  - Structured logging, Prometheus metrics, and OpenTelemetry tracing`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "kiln.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newResourcesCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newPurgeCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

// loadConfig loads and validates the configuration file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	return cfg, nil
}

// setup loads the configuration, initializes the telemetry stack from it,
// and attaches the stack to the command context. Callers own the returned
// telemetry instance and must shut it down.
func setup(cmd *cobra.Command) (*config.Config, *telemetry.Telemetry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	tcfg := cfg.Telemetry
	if tcfg == nil {
		tcfg = telemetry.DefaultConfig()
	}
	if verbose {
		tcfg.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, nil, err
	}

	cmd.SetContext(tel.WithContext(cmd.Context()))
	return cfg, tel, nil
}

// openStore opens and migrates the state store from the configuration.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
