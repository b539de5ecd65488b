package watch

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"ticker-sentry/internal/models"
	"ticker-sentry/internal/store"
)

// evalCase is one randomized single-task evaluation input.
type evalCase struct {
	entryPrice   float64
	currentPrice float64
	minutesLeft  int // minutes from now until the monitor close; <= 0 means closed
}

func (c evalCase) movePct() float64 {
	return (c.currentPrice - c.entryPrice) / c.entryPrice
}

func genEvalCase() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(1, 5000),
		gen.Float64Range(-0.40, 0.40),
		gen.IntRange(-120, 300),
	).Map(func(vals []interface{}) evalCase {
		entry := vals[0].(float64)
		move := vals[1].(float64)
		return evalCase{
			entryPrice:   entry,
			currentPrice: entry * (1 + move),
			minutesLeft:  vals[2].(int),
		}
	})
}

// runEval drives a single evaluate call for the generated case.
func runEval(c evalCase) (store.WatchUpdate, models.SweepStats) {
	p := NewProcessor(nil, zerolog.Nop())

	now := sessionTime(13, 0)
	task := models.WatchTask{
		ID:           "p1:AAPL",
		PostID:       "p1",
		Ticker:       "AAPL",
		EntryPrice:   c.entryPrice,
		AlertedAt:    sessionTime(10, 0),
		MonitorStart: sessionTime(10, 0),
		MonitorClose: now.Add(time.Duration(c.minutesLeft) * time.Minute),
		Status:       models.WatchPending,
	}
	bars := []models.MarketBar{bar(now.Add(-time.Minute), c.currentPrice)}

	var stats models.SweepStats
	update := p.evaluate(task, bars, now, &stats)
	return update, stats
}

func TestProperty_ThresholdLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("move at or past +15% always expires as above_15pct", prop.ForAll(
		func(c evalCase) bool {
			if c.movePct() < abandonThreshold {
				return true
			}
			update, stats := runEval(c)
			return update.Status == models.WatchExpired &&
				update.StopReason != nil && *update.StopReason == models.StopAboveFifteenPct &&
				stats.ExceededFifteenPct == 1 && len(stats.Triggered) == 0
		},
		genEvalCase(),
	))

	properties.Property("move at or below +5%, losses included, always triggers", prop.ForAll(
		func(c evalCase) bool {
			if c.movePct() > triggerThreshold {
				return true
			}
			update, stats := runEval(c)
			return update.Status == models.WatchTriggered &&
				len(stats.Triggered) == 1 &&
				update.TriggeredPrice != nil && *update.TriggeredPrice == c.currentPrice
		},
		genEvalCase(),
	))

	properties.Property("between thresholds: reschedule before close, expire after", prop.ForAll(
		func(c evalCase) bool {
			if c.movePct() <= triggerThreshold || c.movePct() >= abandonThreshold {
				return true
			}
			update, stats := runEval(c)

			if c.minutesLeft <= 0 {
				return update.Status == models.WatchExpired &&
					update.StopReason != nil && *update.StopReason == models.StopMarketClose
			}

			if update.Status != models.WatchPending || update.NextCheckAt == nil {
				return false
			}
			now := sessionTime(13, 0)
			monitorClose := now.Add(time.Duration(c.minutesLeft) * time.Minute)
			return !update.NextCheckAt.After(monitorClose) &&
				!update.NextCheckAt.After(now.Add(recheckInterval)) &&
				update.NextCheckAt.After(now) &&
				stats.Rescheduled == 1
		},
		genEvalCase(),
	))

	properties.Property("exactly one outcome is counted per evaluation", prop.ForAll(
		func(c evalCase) bool {
			_, stats := runEval(c)
			outcomes := len(stats.Triggered) + stats.Expired + stats.Rescheduled
			return outcomes == 1
		},
		genEvalCase(),
	))

	properties.TestingRun(t)
}
