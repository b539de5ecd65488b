package watch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ticker-sentry/internal/models"
	"ticker-sentry/internal/store"
)

// DefaultAdverseThreshold is the adverse-move trigger applied when a
// position carries no override.
const DefaultAdverseThreshold = 0.05

// positionLookback is the fixed bar window for position re-checks.
const positionLookback = 3 * 24 * time.Hour

// PositionProcessor re-evaluates user-held positions against an
// adverse-move threshold. Unlike watch tasks there is no expiry: the check
// repeats for as long as the position stays flagged for watching.
type PositionProcessor struct {
	store            store.WatchStore
	logger           zerolog.Logger
	frequency        models.BarFrequency
	defaultThreshold float64
}

// NewPositionProcessor creates a new watched-position processor.
func NewPositionProcessor(st store.WatchStore, logger zerolog.Logger) *PositionProcessor {
	return &PositionProcessor{
		store:            st,
		logger:           logger.With().Str("component", "position_processor").Logger(),
		frequency:        models.Freq5Min,
		defaultThreshold: DefaultAdverseThreshold,
	}
}

// SetFrequency overrides the bar frequency requested from the provider.
func (p *PositionProcessor) SetFrequency(freq models.BarFrequency) {
	if freq != "" {
		p.frequency = freq
	}
}

// SetDefaultThreshold overrides the threshold applied to positions
// without their own override.
func (p *PositionProcessor) SetDefaultThreshold(threshold float64) {
	if threshold > 0 {
		p.defaultThreshold = threshold
	}
}

// CheckPositions refreshes the last observed price of every watched
// position and emits adverse-move alerts for drops past each position's
// threshold relative to its previously stored price. Last price and
// timestamp are refreshed whether or not an alert fires.
func (p *PositionProcessor) CheckPositions(ctx context.Context, client BarFetcher, now time.Time) ([]models.AdverseMoveAlert, error) {
	positions, err := p.store.WatchedPositions(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}

	var alerts []models.AdverseMoveAlert
	updates := make([]store.PositionUpdate, 0, len(positions))

	for _, pos := range positions {
		bars, err := client.FetchBars(ctx, pos.Ticker, now.Add(-positionLookback), now, p.frequency)
		if err != nil {
			p.logger.Warn().Err(err).Str("ticker", pos.Ticker).Msg("Bar fetch failed, skipping position this cycle")
			continue
		}

		bar, ok := latestBarAtOrBefore(bars, now)
		if !ok {
			p.logger.Debug().Str("ticker", pos.Ticker).Msg("No bars for watched position")
			continue
		}

		currentPrice := bar.Close
		if !validPrice(currentPrice) {
			currentPrice = bar.Open
		}
		if !validPrice(currentPrice) {
			continue
		}

		update := store.PositionUpdate{
			ID:          pos.ID,
			LastPrice:   currentPrice,
			LastPriceAt: bar.Timestamp,
		}

		if pos.LastPrice != nil && validPrice(*pos.LastPrice) {
			movePct := (currentPrice - *pos.LastPrice) / *pos.LastPrice
			threshold := pos.AlertThresholdPct
			if threshold <= 0 {
				threshold = p.defaultThreshold
			}

			if movePct <= -threshold {
				alerts = append(alerts, models.AdverseMoveAlert{
					Ticker:       pos.Ticker,
					PositionID:   pos.ID,
					Shares:       pos.Shares,
					PrevPrice:    *pos.LastPrice,
					CurrentPrice: currentPrice,
					MovePct:      movePct,
					ObservedAt:   now,
				})
				alertAt := now
				update.LastAlertPrice = &currentPrice
				update.LastAlertAt = &alertAt
				update.LastAlertMovePct = &movePct
			}
		}

		updates = append(updates, update)
	}

	if err := p.store.ApplyPositionUpdates(ctx, updates); err != nil {
		return nil, err
	}

	p.logger.Info().
		Int("positions", len(positions)).
		Int("refreshed", len(updates)).
		Int("alerts", len(alerts)).
		Msg("Checked watched positions")

	return alerts, nil
}
