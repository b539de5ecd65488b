package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ticker-sentry/internal/config"
	"ticker-sentry/internal/logging"
	"ticker-sentry/internal/marketdata"
	"ticker-sentry/internal/notify"
	"ticker-sentry/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-08-24"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    store.WatchStore
	Notifier notify.Notifier
}

// newMarketDataClient creates a fresh rate-limited provider client. One
// client is created per invocation so the request budget and bar cache
// never span more than a single run.
func (app *App) newMarketDataClient() *marketdata.Client {
	return marketdata.NewClient(marketdata.Config{
		BaseURL:      app.Config.Provider.BaseURL,
		APIKey:       app.Config.Credentials.Provider.APIKey,
		HourlyLimit:  app.Config.Limits.HourlyLimit,
		DailyLimit:   app.Config.Limits.DailyLimit,
		SafetyMargin: app.Config.Limits.SafetyMargin,
		HTTPTimeout:  app.Config.Provider.Timeout,
	}, app.Logger)
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize SQLite store
	watchStore, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = watchStore
		logger.Debug().Str("path", cfg.Store.Path).Msg("SQLite store initialized")
	}

	// Initialize notifier. Interactive runs additionally get the terminal
	// channel so alerts show inline next to the remote channels.
	if cfg.Notifications.Enabled {
		multi := notify.NewMultiNotifier(&cfg.Notifications)
		if isTerminal() {
			multi.AddChannel(notify.NewTerminalNotifier(true))
		}
		app.Notifier = multi
	} else {
		app.Notifier = notify.NewNoOpNotifier()
	}

	rootCmd := &cobra.Command{
		Use:   "sentry",
		Short: "Ticker Sentry - post-alert price watch engine",
		Long: `Ticker Sentry watches stock prices after quality alerts go out.

When an alerted ticker's price comes back near or below the original call
during the next market session, it re-alerts; when the price runs away or
the session closes, the watch expires. It also re-checks held positions
for adverse moves.

Use 'sentry help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/ticker-sentry)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	// Add all command groups
	addCoreCommands(rootCmd, app)
	addWatchCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addDaemonCommand(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Ticker Sentry v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Provider Configuration")
	output.Printf("  Base URL:        %s\n", cfg.Provider.BaseURL)
	output.Printf("  Frequency:       %s\n", cfg.Provider.Frequency)
	output.Printf("  Timeout:         %s\n", cfg.Provider.Timeout)
	output.Println()

	output.Bold("Request Limits")
	output.Printf("  Hourly:          %d\n", cfg.Limits.HourlyLimit)
	output.Printf("  Daily:           %d\n", cfg.Limits.DailyLimit)
	output.Printf("  Safety Margin:   %d\n", cfg.Limits.SafetyMargin)
	output.Println()

	output.Bold("Watch Configuration")
	output.Printf("  Batch Limit:     %d\n", cfg.Watch.BatchLimit)
	output.Printf("  Sweep Interval:  %s\n", cfg.Watch.SweepInterval)
	output.Println()

	output.Bold("Positions")
	output.Printf("  Adverse Threshold: %.1f%%\n", cfg.Positions.AdverseThresholdPct*100)
	output.Printf("  Check Interval:  %s\n", cfg.Positions.CheckInterval)
	output.Println()

	output.Bold("Store")
	output.Printf("  Path:            %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:           %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)

	return nil
}
