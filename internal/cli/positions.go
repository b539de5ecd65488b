package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "ticker-sentry/internal/errors"
	"ticker-sentry/internal/logging"
	"ticker-sentry/internal/models"
	"ticker-sentry/internal/watch"
)

// addPositionCommands adds the positions command group.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	posCmd := &cobra.Command{
		Use:   "positions",
		Short: "Watched position management",
		Long:  "Track held positions and re-check them for adverse price moves.",
	}

	posCmd.AddCommand(newPositionAddCmd(app))
	posCmd.AddCommand(newPositionListCmd(app))
	posCmd.AddCommand(newPositionCheckCmd(app))

	rootCmd.AddCommand(posCmd)
}

func newPositionAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <ticker> <shares>",
		Short: "Add or update a watched position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable: %w", apperrors.ErrDatabaseError)
			}

			ticker := strings.ToUpper(strings.TrimSpace(args[0]))
			if ticker == "" || len(ticker) > models.MaxTickerLen {
				return fmt.Errorf("invalid ticker %q: %w", args[0], apperrors.ErrInputValidation)
			}

			shares, err := strconv.ParseFloat(args[1], 64)
			if err != nil || shares <= 0 {
				return fmt.Errorf("invalid share count %q: %w", args[1], apperrors.ErrInputValidation)
			}

			threshold, _ := cmd.Flags().GetFloat64("threshold")

			pos := models.WatchedPosition{
				ID:                "pos:" + ticker,
				Ticker:            ticker,
				Shares:            shares,
				Watch:             true,
				AlertThresholdPct: threshold,
			}
			if err := app.Store.SaveWatchedPosition(cmd.Context(), &pos); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(pos)
			}
			output.Success("✓ Watching %s (%.2f shares)", ticker, shares)
			return nil
		},
	}

	cmd.Flags().Float64("threshold", 0, "adverse-move alert threshold override (fraction, e.g. 0.03)")
	return cmd
}

func newPositionListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List watched positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable: %w", apperrors.ErrDatabaseError)
			}

			all, _ := cmd.Flags().GetBool("all")
			positions, err := app.Store.WatchedPositions(cmd.Context(), !all)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}

			if len(positions) == 0 {
				output.Dim("No watched positions")
				return nil
			}

			table := NewTable(output, "TICKER", "SHARES", "LAST PRICE", "AS OF", "THRESHOLD", "LAST ALERT")
			for _, pos := range positions {
				last := "-"
				if pos.LastPrice != nil {
					last = fmt.Sprintf("$%.2f", *pos.LastPrice)
				}
				asOf := "-"
				if pos.LastPriceAt != nil {
					asOf = pos.LastPriceAt.Local().Format("02-Jan 15:04")
				}
				threshold := pos.AlertThresholdPct
				if threshold <= 0 {
					threshold = watch.DefaultAdverseThreshold
				}
				lastAlert := "-"
				if pos.LastAlertAt != nil && pos.LastAlertMovePct != nil {
					lastAlert = fmt.Sprintf("%s at %s",
						output.FormatMove(*pos.LastAlertMovePct),
						pos.LastAlertAt.Local().Format("02-Jan 15:04"))
				}
				table.AddRow(
					pos.Ticker,
					fmt.Sprintf("%.2f", pos.Shares),
					last,
					asOf,
					fmt.Sprintf("%.1f%%", threshold*100),
					lastAlert,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "include positions not flagged for watching")
	return cmd
}

func newPositionCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Re-check watched positions for adverse moves",
		Long: `Fetch a fresh price for each watched position and alert on drops
past the position's threshold relative to its previously observed price.
Prices refresh whether or not an alert fires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable: %w", apperrors.ErrDatabaseError)
			}

			alerts, err := runPositionCheck(cmd, app)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"alerts": alerts})
			}

			if len(alerts) == 0 {
				output.Success("✓ No adverse moves")
				return nil
			}
			for _, alert := range alerts {
				output.Warning("⚠ %s dropped to $%.2f (%s from $%.2f)",
					alert.Ticker, alert.CurrentPrice, output.FormatMove(alert.MovePct), alert.PrevPrice)
			}
			return nil
		},
	}
}

// runPositionCheck executes one position re-check and dispatches notifications.
func runPositionCheck(cmd *cobra.Command, app *App) ([]models.AdverseMoveAlert, error) {
	ctx := cmd.Context()
	client := app.newMarketDataClient()
	processor := watch.NewPositionProcessor(app.Store, app.Logger)
	processor.SetFrequency(app.Config.Frequency())
	processor.SetDefaultThreshold(app.Config.Positions.AdverseThresholdPct)

	alerts, err := processor.CheckPositions(ctx, client, time.Now())
	if err != nil {
		return nil, err
	}

	for _, alert := range alerts {
		logging.LogAdverseMove(app.Logger, alert)
		if err := app.Notifier.SendAdverseMove(ctx, alert); err != nil {
			app.Logger.Warn().Err(err).Str("ticker", alert.Ticker).Msg("Adverse-move notification failed")
		}
	}

	return alerts, nil
}
