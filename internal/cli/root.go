package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"portfolio-state/internal/config"
	"portfolio-state/internal/logging"
	"portfolio-state/internal/models"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// before any subcommand runs.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "portfolio-state",
		Short: "Portfolio state service - positions, P&L and checkpoints from a fill stream",
		Long: `portfolio-state maintains positions, cash, equity and per-strategy statistics
from a stream of executed fills and checkpoints them to disk.

Use 'portfolio-state run' to start the service and 'portfolio-state status'
to inspect the latest checkpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/portfolio-state)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newReplayCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newFillsCmd(app))

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	configDir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(cfg.LogConfig())

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	if !cfg.UI.ColorEnabled {
		color.NoColor = true
	}

	a.Logger.Debug().
		Str("config_dir", cfg.Dir).
		Str("mode", cfg.Service.Mode).
		Str("checkpoint_dir", cfg.Checkpoint.Dir).
		Msg("Configuration loaded")
	return nil
}

// commandContext returns the command's context, or Background when run
// without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// modeFlag returns the --mode flag value, defaulting to the configured mode.
func (a *App) modeFlag(cmd *cobra.Command) (models.Mode, error) {
	mode := a.Config.TradingMode()
	if s, _ := cmd.Flags().GetString("mode"); s != "" {
		mode = models.Mode(s)
	}
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid mode %q (must be 'live' or 'paper')", mode)
	}
	return mode, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("portfolio-state v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Join(app.Config.Dir, "config.toml")
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Service")
	output.Printf("  Mode:             %s\n", cfg.Service.Mode)
	output.Printf("  Starting Capital: %s\n", FormatIndianCurrency(cfg.Service.StartingCapital))
	output.Printf("  Queue Size:       %d\n", cfg.Service.QueueSize)
	output.Printf("  Timezone:         %s\n", cfg.Service.Timezone)
	output.Println()

	output.Bold("Checkpoint")
	output.Printf("  Directory:        %s\n", cfg.Checkpoint.Dir)
	output.Printf("  Every Fills:      %d\n", cfg.Checkpoint.EveryFills)
	output.Printf("  Interval:         %s\n", cfg.Checkpoint.Interval)
	output.Printf("  Timeout:          %s\n", cfg.Checkpoint.Timeout)
	output.Printf("  Alert After:      %d failures\n", cfg.Checkpoint.MaxConsecutiveFailures)
	output.Printf("  History:          %d per mode\n", cfg.Checkpoint.HistoryLimit)
	output.Println()

	output.Bold("Feed")
	url := cfg.Feed.URL
	if url == "" {
		url = "(none)"
	}
	output.Printf("  URL:              %s\n", url)
	output.Printf("  Reconnects:       %d\n", cfg.Feed.MaxReconnectAttempts)
	output.Printf("  Backoff:          %s - %s\n", cfg.Feed.InitialBackoff, cfg.Feed.MaxBackoff)
	output.Println()

	output.Bold("Store")
	output.Printf("  Path:             %s\n", cfg.Store.Path)
	output.Printf("  Journal Fills:    %v\n", cfg.Store.Journal)
}
