package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	apperrors "ticker-sentry/internal/errors"
	"ticker-sentry/internal/logging"
	"ticker-sentry/internal/models"
	"ticker-sentry/internal/watch"
)

// addWatchCommands adds the watch command group.
func addWatchCommands(rootCmd *cobra.Command, app *App) {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Price watch management",
		Long:  "Schedule price watches for alerted posts and sweep the due ones.",
	}

	watchCmd.AddCommand(newWatchScheduleCmd(app))
	watchCmd.AddCommand(newWatchSweepCmd(app))
	watchCmd.AddCommand(newWatchListCmd(app))

	rootCmd.AddCommand(watchCmd)
}

func newWatchScheduleCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule --file <seeds.csv|seeds.json>",
		Short: "Schedule watches for alerted posts",
		Long: `Schedule price watches from a seed file.

CSV files need a header row with post_id, ticker, quality_score,
alerted_at, entry_price and entry_price_observed_at columns; JSON files
hold an array of the same objects. Timestamps are RFC3339.
Re-submitting a file is safe: known (post, ticker) pairs are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable: %w", apperrors.ErrDatabaseError)
			}

			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required: %w", apperrors.ErrInputValidation)
			}

			seeds, err := loadSeeds(file)
			if err != nil {
				return err
			}

			scheduler := watch.NewScheduler(app.Store, app.Logger)
			n, err := scheduler.Schedule(cmd.Context(), seeds)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]int{"seeds": len(seeds), "scheduled": n})
			}
			output.Success("✓ Scheduled %d watches from %d seeds", n, len(seeds))
			return nil
		},
	}

	cmd.Flags().String("file", "", "seed file (.csv or .json)")
	return cmd
}

// loadSeeds reads watch seeds from a CSV or JSON file.
func loadSeeds(path string) ([]models.WatchSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var seeds []models.WatchSeed
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &seeds); err != nil {
			return nil, fmt.Errorf("parsing JSON seeds: %w", err)
		}
	case ".csv":
		if err := gocsv.UnmarshalBytes(data, &seeds); err != nil {
			return nil, fmt.Errorf("parsing CSV seeds: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported seed file type %q: %w", filepath.Ext(path), apperrors.ErrInputValidation)
	}

	return seeds, nil
}

func newWatchSweepCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Process due watch tasks once",
		Long: `Run one sweep over the due watch tasks.

Fetches fresh bars once per distinct ticker, re-alerts on tickers back
near or below their original call, expires runaways and closed windows,
and reschedules the rest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable: %w", apperrors.ErrDatabaseError)
			}

			stats, requests, err := runSweep(cmd, app)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"checked":           stats.Checked,
					"triggered":         len(stats.Triggered),
					"expired":           stats.Expired,
					"rescheduled":       stats.Rescheduled,
					"data_unavailable":  stats.DataUnavailable,
					"exceeded_15pct":    stats.ExceededFifteenPct,
					"provider_requests": requests,
				})
			}

			output.Bold("Sweep Results")
			output.Printf("  Checked:          %d\n", stats.Checked)
			output.Printf("  Triggered:        %d\n", len(stats.Triggered))
			output.Printf("  Expired:          %d\n", stats.Expired)
			output.Printf("  Rescheduled:      %d\n", stats.Rescheduled)
			output.Printf("  Data unavailable: %d\n", stats.DataUnavailable)
			output.Printf("  Provider calls:   %d\n", requests)

			for _, alert := range stats.Triggered {
				output.Printf("\n")
				output.Success("🔔 %s back at $%.2f (%s from entry $%.2f)",
					alert.Ticker, alert.CurrentPrice, output.FormatMove(alert.MovePct), alert.EntryPrice)
			}
			return nil
		},
	}
}

// runSweep executes one due-task sweep and dispatches notifications.
func runSweep(cmd *cobra.Command, app *App) (models.SweepStats, int, error) {
	ctx := cmd.Context()
	client := app.newMarketDataClient()
	processor := watch.NewProcessor(app.Store, app.Logger)
	processor.SetFrequency(app.Config.Frequency())
	processor.SetBatchLimit(app.Config.Watch.BatchLimit)

	stats, err := processor.ProcessDue(ctx, client, time.Now())
	if err != nil {
		return stats, client.Requests(), err
	}

	logging.LogSweep(app.Logger, stats, client.Requests())

	for _, alert := range stats.Triggered {
		logging.LogTriggeredAlert(app.Logger, alert)
		if err := app.Notifier.SendTriggeredAlert(ctx, alert); err != nil {
			app.Logger.Warn().Err(err).Str("ticker", alert.Ticker).Msg("Alert notification failed")
		}
	}

	if err := app.Notifier.SendSweepSummary(ctx, stats); err != nil {
		app.Logger.Warn().Err(err).Msg("Sweep summary notification failed")
	}

	return stats, client.Requests(), nil
}

func newWatchListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List watch tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable: %w", apperrors.ErrDatabaseError)
			}

			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			tasks, err := app.Store.ListWatchTasks(cmd.Context(), models.WatchStatus(status), limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(tasks)
			}

			if len(tasks) == 0 {
				output.Dim("No watch tasks found")
				return nil
			}

			table := NewTable(output, "TICKER", "POST", "STATUS", "ENTRY", "LAST", "NEXT CHECK", "REASON")
			for _, task := range tasks {
				last := "-"
				if task.LastPrice != nil {
					last = fmt.Sprintf("$%.2f", *task.LastPrice)
				}
				next := "-"
				if task.NextCheckAt != nil {
					next = task.NextCheckAt.Local().Format("02-Jan 15:04")
				}
				reason := "-"
				if task.StopReason != nil {
					reason = *task.StopReason
				}
				table.AddRow(
					task.Ticker,
					task.PostID,
					output.WatchStatus(string(task.Status)),
					fmt.Sprintf("$%.2f", task.EntryPrice),
					last,
					next,
					reason,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("status", "", "filter by status (pending, triggered, expired)")
	cmd.Flags().Int("limit", 50, "maximum tasks to list")
	return cmd
}
