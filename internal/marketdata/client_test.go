package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "ticker-sentry/internal/errors"
	"ticker-sentry/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "test-token"
	}
	return NewClient(cfg, zerolog.Nop()), srv
}

func barsJSON(rows string) string {
	return "[" + rows + "]"
}

func TestFetchBarsParsesAndFilters(t *testing.T) {
	var gotPath, gotEnd string
	handler := func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotEnd = r.URL.Query().Get("endDate")
		fmt.Fprint(w, barsJSON(`
			{"date":"2024-03-04T00:00:00.000Z","open":100,"high":105,"low":99,"close":104,"volume":1200},
			{"date":"2024-03-05T00:00:00.000Z","open":104,"high":106,"low":103,"close":105,"volume":900},
			{"date":"2024-03-06T00:00:00.000Z","open":105,"high":110,"low":104,"close":109,"volume":700}
		`))
	}
	client, _ := newTestClient(t, handler, Config{})

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	bars, err := client.FetchBars(context.Background(), " aapl ", start, end, models.FreqDaily)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}

	if gotPath != "/daily/AAPL/prices" {
		t.Errorf("path = %q, want normalized upper-case ticker", gotPath)
	}
	// End date is padded by one day so the last session is fully captured.
	if gotEnd != "2024-03-06" {
		t.Errorf("endDate = %q, want padded 2024-03-06", gotEnd)
	}
	// The 03-06 bar lies outside [start, end] and must be filtered back out.
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2 within range", len(bars))
	}
	if bars[0].Close != 104 || bars[1].Close != 105 {
		t.Errorf("unexpected bars: %+v", bars)
	}
	if !bars[0].Timestamp.Before(bars[1].Timestamp) {
		t.Error("bars not ascending")
	}
}

func TestFetchBarsDropsMalformedRows(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, barsJSON(`
			{"date":"not-a-date","open":100,"high":105,"low":99,"close":104},
			{"date":"2024-03-04T00:00:00.000Z","open":100,"high":105,"low":99,"close":null},
			{"date":"2024-03-05T00:00:00.000Z","open":104,"high":106,"low":103,"close":105},
			{"date":"2024-03-05T00:00:00.000Z","open":104,"high":106,"low":103,"close":105}
		`))
	}
	client, _ := newTestClient(t, handler, Config{})

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	bars, err := client.FetchBars(context.Background(), "MSFT", start, end, models.FreqDaily)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	// Bad date and null close dropped, duplicate timestamp collapsed.
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	if bars[0].Close != 105 {
		t.Errorf("close = %v, want 105", bars[0].Close)
	}
}

func TestFetchBarsCachesIdenticalRequests(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, barsJSON(`{"date":"2024-03-04T00:00:00.000Z","open":10,"high":11,"low":9,"close":10.5,"volume":100}`))
	}
	client, _ := newTestClient(t, handler, Config{})

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := client.FetchBars(context.Background(), "NVDA", start, end, models.FreqDaily); err != nil {
			t.Fatalf("FetchBars #%d: %v", i, err)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("provider hit %d times, want 1 (memoized)", n)
	}
	if client.Requests() != 1 {
		t.Errorf("request counter = %d, want 1", client.Requests())
	}
}

func TestFetchBarsEnforcesBudget(t *testing.T) {
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, "[]")
	}
	// Effective budget: 8 - 5 = 3 requests.
	client, _ := newTestClient(t, handler, Config{HourlyLimit: 8, DailyLimit: 500, SafetyMargin: 5})

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ticker := fmt.Sprintf("TCK%d", i)
		if _, err := client.FetchBars(context.Background(), ticker, start, end, models.FreqDaily); err != nil {
			t.Fatalf("request %d should be within budget: %v", i, err)
		}
	}

	_, err := client.FetchBars(context.Background(), "OVER", start, end, models.FreqDaily)
	if err == nil {
		t.Fatal("expected budget error")
	}
	if !apperrors.Is(err, apperrors.ErrBudgetExceeded) {
		t.Errorf("error %v does not wrap ErrBudgetExceeded", err)
	}
	var budgetErr *apperrors.BudgetError
	if !apperrors.As(err, &budgetErr) {
		t.Fatalf("error %v is not a BudgetError", err)
	}
	if budgetErr.Window != "hourly" {
		t.Errorf("window = %q, want hourly", budgetErr.Window)
	}
	// The refused call must not reach the provider.
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("provider hit %d times, want 3", n)
	}

	// Cached results stay available after the budget is exhausted.
	if _, err := client.FetchBars(context.Background(), "TCK0", start, end, models.FreqDaily); err != nil {
		t.Errorf("cached fetch should not consume budget: %v", err)
	}
}

func TestFetchBarsProviderError(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ticker unknown", http.StatusNotFound)
	}
	client, _ := newTestClient(t, handler, Config{})

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	_, err := client.FetchBars(context.Background(), "ZZZZ", start, end, models.FreqDaily)
	if err == nil {
		t.Fatal("expected provider error")
	}
	var provErr *apperrors.ProviderError
	if !apperrors.As(err, &provErr) {
		t.Fatalf("error %v is not a ProviderError", err)
	}
	if provErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", provErr.StatusCode)
	}
}
