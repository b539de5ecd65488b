package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	apperrors "ticker-sentry/internal/errors"
	"ticker-sentry/internal/models"
)

// fakeFetcher serves canned bar series and records per-ticker call counts.
type fakeFetcher struct {
	mu     sync.Mutex
	series map[string][]models.MarketBar
	errs   map[string]error
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		series: make(map[string][]models.MarketBar),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) FetchBars(ctx context.Context, ticker string, start, end time.Time, freq models.BarFrequency) ([]models.MarketBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ticker]++
	if err, ok := f.errs[ticker]; ok {
		return nil, err
	}
	return f.series[ticker], nil
}

func (f *fakeFetcher) callCount(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ticker]
}

// bar builds a single bar with close price at the given instant.
func bar(ts time.Time, close float64) models.MarketBar {
	return models.MarketBar{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 100}
}

// scheduleOne persists one pending task via the real scheduler and returns a
// now inside the monitoring session.
func scheduleOne(t *testing.T, sched *Scheduler, postID, ticker string, entry float64) time.Time {
	t.Helper()
	alertedAt := sessionTime(10, 0)
	_, err := sched.Schedule(context.Background(), []models.WatchSeed{seed(postID, ticker, entry, alertedAt)})
	require.NoError(t, err)
	return sessionTime(11, 0)
}

func TestProcessDueAboveFifteenPctExpires(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	now := scheduleOne(t, sched, "p1", "AAPL", 100)

	fetcher := newFakeFetcher()
	fetcher.series["AAPL"] = []models.MarketBar{
		bar(now.Add(-30*time.Minute), 108),
		bar(now.Add(-5*time.Minute), 116),
	}

	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Checked)
	require.Equal(t, 1, stats.Expired)
	require.Equal(t, 1, stats.ExceededFifteenPct)
	require.Empty(t, stats.Triggered)

	task, err := st.GetWatchTask(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.Equal(t, models.WatchExpired, task.Status)
	require.Equal(t, models.StopAboveFifteenPct, *task.StopReason)
	require.Nil(t, task.NextCheckAt)
}

func TestProcessDueTriggersNearEntry(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	now := scheduleOne(t, sched, "p1", "AAPL", 100)

	fetcher := newFakeFetcher()
	fetcher.series["AAPL"] = []models.MarketBar{bar(now.Add(-5*time.Minute), 104)}

	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Len(t, stats.Triggered, 1)

	alert := stats.Triggered[0]
	require.Equal(t, "AAPL", alert.Ticker)
	require.Equal(t, "p1", alert.PostID)
	require.Equal(t, 100.0, alert.EntryPrice)
	require.Equal(t, 104.0, alert.CurrentPrice)
	require.InDelta(t, 0.04, alert.MovePct, 1e-9)
	require.True(t, alert.TriggeredAt.Equal(now))

	task, err := st.GetWatchTask(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.Equal(t, models.WatchTriggered, task.Status)
	require.Equal(t, models.StopTriggered, *task.StopReason)
	require.Equal(t, 104.0, *task.TriggeredPrice)
	require.InDelta(t, 0.04, *task.TriggeredMovePct, 1e-9)

	// Terminal: the next sweep finds nothing due, so it triggers exactly once.
	stats, err = proc.ProcessDue(ctx, fetcher, now.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, stats.Checked)
	require.Empty(t, stats.Triggered)
}

func TestProcessDueTriggersOnLosses(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	now := scheduleOne(t, sched, "p1", "AAPL", 100)

	// The trigger comparison is signed: a 12% loss is still "near or below
	// the original call" and must re-alert, not expire.
	fetcher := newFakeFetcher()
	fetcher.series["AAPL"] = []models.MarketBar{bar(now.Add(-time.Minute), 88)}

	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Len(t, stats.Triggered, 1)
	require.InDelta(t, -0.12, stats.Triggered[0].MovePct, 1e-9)
}

func TestProcessDueReschedulesBetweenThresholds(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	now := scheduleOne(t, sched, "p1", "AAPL", 100)

	fetcher := newFakeFetcher()
	barAt := now.Add(-10 * time.Minute)
	fetcher.series["AAPL"] = []models.MarketBar{bar(barAt, 110)}

	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Rescheduled)
	require.Empty(t, stats.Triggered)
	require.Zero(t, stats.Expired)

	task, err := st.GetWatchTask(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.Equal(t, models.WatchPending, task.Status)
	require.NotNil(t, task.NextCheckAt)
	require.True(t, task.NextCheckAt.Equal(now.Add(time.Hour)), "nextCheckAt = now+1h")
	require.Equal(t, 110.0, *task.LastPrice)
	require.True(t, task.LastPriceObservedAt.Equal(barAt))
}

func TestProcessDueRescheduleCappedAtClose(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	scheduleOne(t, sched, "p1", "AAPL", 100)
	// Half an hour before the close, now+1h overshoots the window.
	now := sessionTime(15, 30)

	fetcher := newFakeFetcher()
	fetcher.series["AAPL"] = []models.MarketBar{bar(now.Add(-time.Minute), 110)}

	_, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)

	task, err := st.GetWatchTask(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.True(t, task.NextCheckAt.Equal(task.MonitorClose), "nextCheckAt capped at monitorClose")
}

func TestProcessDueExpiresAtCloseBetweenThresholds(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	scheduleOne(t, sched, "p1", "AAPL", 100)
	now := sessionTime(16, 0) // at the close

	fetcher := newFakeFetcher()
	fetcher.series["AAPL"] = []models.MarketBar{bar(now.Add(-time.Minute), 110)}

	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Expired)

	task, err := st.GetWatchTask(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.Equal(t, models.WatchExpired, task.Status)
	require.Equal(t, models.StopMarketClose, *task.StopReason)
}

func TestProcessDueNoBars(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	now := scheduleOne(t, sched, "p1", "AAPL", 100)
	fetcher := newFakeFetcher() // empty series

	// Before the close: stay pending, clear last price, count unavailable.
	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.DataUnavailable)
	require.Equal(t, 1, stats.Rescheduled)

	task, err := st.GetWatchTask(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.Equal(t, models.WatchPending, task.Status)
	require.Nil(t, task.LastPrice)
	require.Nil(t, task.LastPriceObservedAt)

	// At/after the close: expire with market_close.
	stats, err = proc.ProcessDue(ctx, fetcher, sessionTime(16, 0))
	require.NoError(t, err)
	require.Equal(t, 1, stats.DataUnavailable)
	require.Equal(t, 1, stats.Expired)

	task, err = st.GetWatchTask(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.Equal(t, models.WatchExpired, task.Status)
	require.Equal(t, models.StopMarketClose, *task.StopReason)
}

func TestProcessDueOneFetchPerTicker(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	alertedAt := sessionTime(10, 0)
	_, err := sched.Schedule(ctx, []models.WatchSeed{
		seed("p1", "AAPL", 100, alertedAt),
		seed("p2", "AAPL", 101, alertedAt),
		seed("p3", "MSFT", 310, alertedAt),
	})
	require.NoError(t, err)

	now := sessionTime(11, 0)
	fetcher := newFakeFetcher()
	fetcher.series["AAPL"] = []models.MarketBar{bar(now.Add(-time.Minute), 108)}
	fetcher.series["MSFT"] = []models.MarketBar{bar(now.Add(-time.Minute), 330)}

	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Checked)
	require.Equal(t, 1, fetcher.callCount("AAPL"), "two AAPL tasks share one fetch")
	require.Equal(t, 1, fetcher.callCount("MSFT"))
}

func TestProcessDueFetchFailureDegradesToUnavailable(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	alertedAt := sessionTime(10, 0)
	_, err := sched.Schedule(ctx, []models.WatchSeed{
		seed("p1", "AAPL", 100, alertedAt),
		seed("p2", "MSFT", 310, alertedAt),
	})
	require.NoError(t, err)

	now := sessionTime(11, 0)
	fetcher := newFakeFetcher()
	fetcher.errs["AAPL"] = apperrors.NewBudgetError(45, 45, "hourly")
	fetcher.series["MSFT"] = []models.MarketBar{bar(now.Add(-time.Minute), 320)}

	// The failed ticker degrades to data-unavailable; the sweep continues.
	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Checked)
	require.Equal(t, 1, stats.DataUnavailable)

	aapl, err := st.GetWatchTask(ctx, "p1", "AAPL")
	require.NoError(t, err)
	require.Equal(t, models.WatchPending, aapl.Status)

	msft, err := st.GetWatchTask(ctx, "p2", "MSFT")
	require.NoError(t, err)
	require.Equal(t, models.WatchPending, msft.Status)
	require.Equal(t, 320.0, *msft.LastPrice)
}

func TestProcessDueFallsBackToOpenWhenCloseInvalid(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, zerolog.Nop())
	proc := NewProcessor(st, zerolog.Nop())
	ctx := context.Background()

	now := scheduleOne(t, sched, "p1", "AAPL", 100)

	fetcher := newFakeFetcher()
	b := bar(now.Add(-time.Minute), 104)
	b.Close = 0 // invalid close, open must be used
	b.Open = 103
	fetcher.series["AAPL"] = []models.MarketBar{b}

	stats, err := proc.ProcessDue(ctx, fetcher, now)
	require.NoError(t, err)
	require.Len(t, stats.Triggered, 1)
	require.Equal(t, 103.0, stats.Triggered[0].CurrentPrice)
}
