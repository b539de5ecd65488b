package watch

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticker-sentry/internal/models"
	"ticker-sentry/internal/store"
)

// Sweep tuning. Thresholds are fractions of the entry price.
const (
	// DefaultBatchLimit caps the tasks loaded per sweep.
	DefaultBatchLimit = 200
	// triggerThreshold fires a re-alert when the move is at or below it.
	// The comparison is signed and inclusive: any price at or below a 5%
	// gain, losses included, still reads as "near the original call".
	triggerThreshold = 0.05
	// abandonThreshold stops the watch once the price has run too far for
	// a re-alert to be useful.
	abandonThreshold = 0.15
	// recheckInterval spaces out rechecks of a still-pending task.
	recheckInterval = time.Hour
	// fetchLookback bounds how far back a sweep asks the provider.
	fetchLookback = 3 * 24 * time.Hour
	// fetchLeadIn widens the window before the earliest relevant instant
	// so the baseline session is covered.
	fetchLeadIn = 30 * time.Minute
)

// BarFetcher fetches ascending bars for a ticker over a window. Satisfied
// by *marketdata.Client; a fresh client is created for every sweep and
// passed in explicitly so cache and budget never leak across invocations.
type BarFetcher interface {
	FetchBars(ctx context.Context, ticker string, start, end time.Time, freq models.BarFrequency) ([]models.MarketBar, error)
}

// Processor runs the recurring due-task sweep.
type Processor struct {
	store      store.WatchStore
	logger     zerolog.Logger
	batchLimit int
	frequency  models.BarFrequency
}

// NewProcessor creates a new price-watch processor.
func NewProcessor(st store.WatchStore, logger zerolog.Logger) *Processor {
	return &Processor{
		store:      st,
		logger:     logger.With().Str("component", "watch_processor").Logger(),
		batchLimit: DefaultBatchLimit,
		frequency:  models.Freq5Min,
	}
}

// SetFrequency overrides the bar frequency requested from the provider.
func (p *Processor) SetFrequency(freq models.BarFrequency) {
	if freq != "" {
		p.frequency = freq
	}
}

// SetBatchLimit overrides the per-sweep task cap.
func (p *Processor) SetBatchLimit(limit int) {
	if limit > 0 {
		p.batchLimit = limit
	}
}

// ProcessDue loads due pending tasks, fetches fresh bars once per ticker,
// transitions each task, persists the updates in one batch and returns
// sweep statistics including the freshly triggered alerts. now is captured
// once by the caller so every decision within a sweep is consistent.
func (p *Processor) ProcessDue(ctx context.Context, client BarFetcher, now time.Time) (models.SweepStats, error) {
	stats := models.SweepStats{}

	tasks, err := p.store.DueWatchTasks(ctx, now, p.batchLimit)
	if err != nil {
		return stats, err
	}
	if len(tasks) == 0 {
		return stats, nil
	}
	stats.Checked = len(tasks)

	groups := groupByTicker(tasks)
	series := p.fetchGroups(ctx, client, groups, now)

	updates := make([]store.WatchUpdate, 0, len(tasks))
	for _, task := range tasks {
		updates = append(updates, p.evaluate(task, series[task.Ticker], now, &stats))
	}

	if err := p.store.ApplyWatchUpdates(ctx, updates); err != nil {
		return stats, err
	}

	p.logger.Info().
		Int("checked", stats.Checked).
		Int("triggered", len(stats.Triggered)).
		Int("expired", stats.Expired).
		Int("rescheduled", stats.Rescheduled).
		Int("data_unavailable", stats.DataUnavailable).
		Int("exceeded_15pct", stats.ExceededFifteenPct).
		Msg("Processed due watch tasks")

	return stats, nil
}

// groupByTicker buckets tasks so each ticker is fetched exactly once.
func groupByTicker(tasks []models.WatchTask) map[string][]models.WatchTask {
	groups := make(map[string][]models.WatchTask)
	for _, task := range tasks {
		groups[task.Ticker] = append(groups[task.Ticker], task)
	}
	return groups
}

// fetchGroups issues one bar fetch per ticker group. Fetches run
// concurrently; the client's counter and cache are thread-safe. A failed
// fetch degrades to an empty series so the sweep never aborts on
// provider trouble.
func (p *Processor) fetchGroups(ctx context.Context, client BarFetcher, groups map[string][]models.WatchTask, now time.Time) map[string][]models.MarketBar {
	series := make(map[string][]models.MarketBar, len(groups))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for ticker, group := range groups {
		wg.Add(1)
		go func(ticker string, group []models.WatchTask) {
			defer wg.Done()

			start := groupFetchStart(group, now)
			bars, err := client.FetchBars(ctx, ticker, start, now, p.frequency)
			if err != nil {
				p.logger.Warn().Err(err).Str("ticker", ticker).Msg("Bar fetch failed, treating group as data-unavailable")
				bars = nil
			}

			mu.Lock()
			series[ticker] = bars
			mu.Unlock()
		}(ticker, group)
	}

	wg.Wait()
	return series
}

// groupFetchStart computes the shared window start for a ticker group:
// the earliest of monitor-start and entry observation across the group,
// widened by the lead-in, but never more than the lookback before now.
func groupFetchStart(group []models.WatchTask, now time.Time) time.Time {
	earliest := group[0].MonitorStart
	for _, task := range group {
		if task.MonitorStart.Before(earliest) {
			earliest = task.MonitorStart
		}
		if task.EntryPriceObservedAt.Before(earliest) {
			earliest = task.EntryPriceObservedAt
		}
	}

	start := earliest.Add(-fetchLeadIn)
	if floor := now.Add(-fetchLookback); start.Before(floor) {
		start = floor
	}
	return start
}

// evaluate computes the state transition for a single task. Every path
// either fully computes a transition or reschedules the task unchanged in
// substance, so a replayed sweep with the same now and bars is harmless.
func (p *Processor) evaluate(task models.WatchTask, bars []models.MarketBar, now time.Time, stats *models.SweepStats) store.WatchUpdate {
	// Defensive: the scheduler rejects these, but an invalid baseline must
	// never divide by zero.
	if !validPrice(task.EntryPrice) {
		stats.Expired++
		return expireUpdate(task, models.StopInvalidEntryPrice)
	}

	bar, ok := latestBarAtOrBefore(bars, now)
	if !ok {
		return p.dataUnavailable(task, now, stats)
	}

	currentPrice := bar.Close
	if !validPrice(currentPrice) {
		currentPrice = bar.Open
	}
	if !validPrice(currentPrice) {
		return p.dataUnavailable(task, now, stats)
	}

	movePct := (currentPrice - task.EntryPrice) / task.EntryPrice

	switch {
	case movePct >= abandonThreshold:
		// Price ran too far; re-alerting is not useful anymore.
		stats.Expired++
		stats.ExceededFifteenPct++
		u := expireUpdate(task, models.StopAboveFifteenPct)
		u.LastPrice = &currentPrice
		ts := bar.Timestamp
		u.LastPriceObservedAt = &ts
		return u

	case movePct <= triggerThreshold:
		triggeredAt := now
		reason := models.StopTriggered
		ts := bar.Timestamp
		stats.Triggered = append(stats.Triggered, models.TriggeredAlert{
			Ticker:       task.Ticker,
			PostID:       task.PostID,
			EntryPrice:   task.EntryPrice,
			CurrentPrice: currentPrice,
			MovePct:      movePct,
			AlertedAt:    task.AlertedAt,
			TriggeredAt:  triggeredAt,
		})
		return store.WatchUpdate{
			ID:                  task.ID,
			Status:              models.WatchTriggered,
			StopReason:          &reason,
			LastPrice:           &currentPrice,
			LastPriceObservedAt: &ts,
			TriggeredAt:         &triggeredAt,
			TriggeredPrice:      &currentPrice,
			TriggeredMovePct:    &movePct,
		}

	case !now.Before(task.MonitorClose):
		stats.Expired++
		u := expireUpdate(task, models.StopMarketClose)
		u.LastPrice = &currentPrice
		ts := bar.Timestamp
		u.LastPriceObservedAt = &ts
		return u

	default:
		stats.Rescheduled++
		next := nextCheck(now, task.MonitorClose)
		ts := bar.Timestamp
		return store.WatchUpdate{
			ID:                  task.ID,
			Status:              models.WatchPending,
			NextCheckAt:         &next,
			LastPrice:           &currentPrice,
			LastPriceObservedAt: &ts,
		}
	}
}

// dataUnavailable handles the no-usable-price branch: expire once the
// window has closed, otherwise retry on the next sweep with last-price
// fields cleared.
func (p *Processor) dataUnavailable(task models.WatchTask, now time.Time, stats *models.SweepStats) store.WatchUpdate {
	stats.DataUnavailable++

	if !now.Before(task.MonitorClose) {
		stats.Expired++
		return expireUpdate(task, models.StopMarketClose)
	}

	stats.Rescheduled++
	next := nextCheck(now, task.MonitorClose)
	return store.WatchUpdate{
		ID:          task.ID,
		Status:      models.WatchPending,
		NextCheckAt: &next,
	}
}

// expireUpdate builds a terminal expired update with next_check_at cleared.
func expireUpdate(task models.WatchTask, reason string) store.WatchUpdate {
	return store.WatchUpdate{
		ID:         task.ID,
		Status:     models.WatchExpired,
		StopReason: &reason,
	}
}

// nextCheck advances the recheck time, capped at the monitor close.
func nextCheck(now, monitorClose time.Time) time.Time {
	next := now.Add(recheckInterval)
	if next.After(monitorClose) {
		next = monitorClose
	}
	return next
}

// latestBarAtOrBefore returns the last bar not after now. Bars are
// ascending per the client contract.
func latestBarAtOrBefore(bars []models.MarketBar, now time.Time) (models.MarketBar, bool) {
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Timestamp.After(now) {
			return bars[i], true
		}
	}
	return models.MarketBar{}, false
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}
