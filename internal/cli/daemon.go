package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	apperrors "ticker-sentry/internal/errors"
)

// addDaemonCommand adds the daemon command.
func addDaemonCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run sweeps and position checks on a schedule",
		Long: `Run the watch engine continuously.

Due-task sweeps and position checks run on the intervals configured in
the watch and positions sections. Stops cleanly on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable: %w", apperrors.ErrDatabaseError)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			scheduler := gocron.NewScheduler(time.Local)

			if _, err := scheduler.Every(app.Config.Watch.SweepInterval).Do(func() {
				if _, _, err := runSweep(cmd, app); err != nil {
					app.Logger.Error().Err(err).Msg("Sweep failed")
					if nerr := app.Notifier.SendError(ctx, err, "watch sweep"); nerr != nil {
						app.Logger.Warn().Err(nerr).Msg("Error notification failed")
					}
				}
			}); err != nil {
				return fmt.Errorf("scheduling sweep job: %w", err)
			}

			if _, err := scheduler.Every(app.Config.Positions.CheckInterval).Do(func() {
				if _, err := runPositionCheck(cmd, app); err != nil {
					app.Logger.Error().Err(err).Msg("Position check failed")
				}
			}); err != nil {
				return fmt.Errorf("scheduling position check job: %w", err)
			}

			output.Info("Daemon started: sweep every %s, position check every %s",
				app.Config.Watch.SweepInterval, app.Config.Positions.CheckInterval)
			app.Logger.Info().
				Dur("sweep_interval", app.Config.Watch.SweepInterval).
				Dur("position_interval", app.Config.Positions.CheckInterval).
				Msg("Daemon started")

			scheduler.StartAsync()
			<-ctx.Done()
			scheduler.Stop()

			app.Logger.Info().Msg("Daemon stopped")
			output.Println("Daemon stopped")
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}
