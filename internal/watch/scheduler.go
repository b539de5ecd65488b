// Package watch implements the post-alert price-watch engine: scheduling
// of watch tasks when alerts go out, the recurring due-task sweep, and the
// adverse-move re-check of user-held positions.
package watch

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"ticker-sentry/internal/calendar"
	"ticker-sentry/internal/models"
	"ticker-sentry/internal/store"
)

// Scheduler converts alerted post+ticker seeds into persisted pending
// watch tasks. Scheduling is idempotent: it is safe to call once per
// notification batch without corrupting an in-flight task's baseline.
type Scheduler struct {
	store  store.WatchStore
	logger zerolog.Logger
}

// NewScheduler creates a new watch scheduler.
func NewScheduler(st store.WatchStore, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:  st,
		logger: logger.With().Str("component", "watch_scheduler").Logger(),
	}
}

// Schedule validates, deduplicates and persists watch tasks for the given
// seeds. Tickers are normalized to upper case; duplicate (post, ticker)
// seeds keep their first occurrence; invalid seeds are dropped. Returns
// the number of unique valid tasks submitted (conflict-ignored rows are
// not subtracted).
func (s *Scheduler) Schedule(ctx context.Context, seeds []models.WatchSeed) (int, error) {
	seen := make(map[string]struct{}, len(seeds))
	tasks := make([]models.WatchTask, 0, len(seeds))
	dropped := 0

	for _, seed := range seeds {
		postID := strings.TrimSpace(seed.PostID)
		ticker := strings.ToUpper(strings.TrimSpace(seed.Ticker))

		key := postID + "|" + ticker
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if !validSeed(postID, ticker, seed.EntryPrice) {
			dropped++
			s.logger.Debug().
				Str("post_id", postID).
				Str("ticker", ticker).
				Float64("entry_price", seed.EntryPrice).
				Msg("Dropping invalid watch seed")
			continue
		}

		window := calendar.MonitorWindow(seed.AlertedAt)
		nextCheckAt := window.Start
		tasks = append(tasks, models.WatchTask{
			ID:                   postID + ":" + ticker,
			PostID:               postID,
			Ticker:               ticker,
			QualityScore:         seed.QualityScore,
			EntryPrice:           seed.EntryPrice,
			EntryPriceObservedAt: seed.EntryPriceObservedAt,
			AlertedAt:            seed.AlertedAt,
			MonitorStart:         window.Start,
			MonitorClose:         window.Close,
			NextCheckAt:          &nextCheckAt,
			Status:               models.WatchPending,
		})
	}

	written, err := s.store.UpsertWatchTasks(ctx, tasks)
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Int("seeds", len(seeds)).
		Int("unique_valid", len(tasks)).
		Int("dropped", dropped).
		Int("written", written).
		Msg("Scheduled price watches")

	return len(tasks), nil
}

// validSeed checks the scheduler's admission rules: non-empty identifiers,
// ticker within symbol length, and a finite positive entry price.
func validSeed(postID, ticker string, entryPrice float64) bool {
	if postID == "" || ticker == "" || len(ticker) > models.MaxTickerLen {
		return false
	}
	if math.IsNaN(entryPrice) || math.IsInf(entryPrice, 0) || entryPrice <= 0 {
		return false
	}
	return true
}
