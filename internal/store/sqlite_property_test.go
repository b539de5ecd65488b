package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"ticker-sentry/internal/models"
)

// Property: scheduling persistence is idempotent. For any batch of valid
// watch tasks, upserting the batch twice leaves exactly the rows of the
// first upsert; the second pass writes nothing and overwrites no baseline.
func TestProperty_UpsertIdempotence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "watch_property.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	tickers := []string{"AAPL", "MSFT", "NVDA", "TSLA", "AMZN", "GOOG", "META", "AMD"}
	countGen := gen.IntRange(1, 8)
	priceGen := gen.Float64Range(1.0, 5000.0)

	run := 0
	properties.Property("double upsert writes rows exactly once", prop.ForAll(
		func(count int, basePrice float64) bool {
			ctx := context.Background()
			run++

			base := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
			tasks := make([]models.WatchTask, 0, count)
			for i := 0; i < count; i++ {
				postID := fmt.Sprintf("post-%d-%d", run, i)
				ticker := tickers[i%len(tickers)]
				next := base.Add(time.Duration(i) * time.Minute)
				tasks = append(tasks, models.WatchTask{
					ID:                   postID + ":" + ticker,
					PostID:               postID,
					Ticker:               ticker,
					EntryPrice:           basePrice,
					EntryPriceObservedAt: base,
					AlertedAt:            base,
					MonitorStart:         next,
					MonitorClose:         next.Add(6 * time.Hour),
					NextCheckAt:          &next,
					Status:               models.WatchPending,
				})
			}

			first, err := store.UpsertWatchTasks(ctx, tasks)
			if err != nil {
				t.Logf("first upsert failed: %v", err)
				return false
			}
			if first != count {
				t.Logf("first upsert wrote %d rows, want %d", first, count)
				return false
			}

			// Replay with mutated baselines: still a no-op.
			mutated := make([]models.WatchTask, len(tasks))
			copy(mutated, tasks)
			for i := range mutated {
				mutated[i].EntryPrice = basePrice * 2
			}
			second, err := store.UpsertWatchTasks(ctx, mutated)
			if err != nil {
				t.Logf("second upsert failed: %v", err)
				return false
			}
			if second != 0 {
				t.Logf("second upsert wrote %d rows, want 0", second)
				return false
			}

			// Baselines are those of the first call.
			for _, task := range tasks {
				got, err := store.GetWatchTask(ctx, task.PostID, task.Ticker)
				if err != nil || got == nil {
					t.Logf("lookup %s/%s failed: %v", task.PostID, task.Ticker, err)
					return false
				}
				if got.EntryPrice != basePrice {
					t.Logf("baseline overwritten for %s/%s: %v", task.PostID, task.Ticker, got.EntryPrice)
					return false
				}
			}

			return true
		},
		countGen,
		priceGen,
	))

	properties.Property("empty batch: upserting no tasks succeeds", prop.ForAll(
		func(unused int) bool {
			n, err := store.UpsertWatchTasks(context.Background(), nil)
			return err == nil && n == 0
		},
		gen.IntRange(0, 1),
	))

	properties.TestingRun(t)
}
