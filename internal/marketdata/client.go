// Package marketdata provides a rate-budgeted client for the external
// bar-query provider. One client is created per processing sweep; its
// request counter and response cache live exactly as long as the sweep.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"

	"ticker-sentry/internal/calendar"
	apperrors "ticker-sentry/internal/errors"
	"ticker-sentry/internal/models"
)

// Default provider budget for a low-tier API key shared across a batch run.
const (
	DefaultHourlyLimit  = 50
	DefaultDailyLimit   = 500
	DefaultSafetyMargin = 5
)

// Config holds configuration for the market-data client.
type Config struct {
	BaseURL      string
	APIKey       string
	HourlyLimit  int
	DailyLimit   int
	SafetyMargin int
	HTTPTimeout  time.Duration
}

// Client fetches OHLC bars while enforcing the provider request budget
// and memoizing identical requests for its lifetime.
type Client struct {
	baseURL      string
	apiKey       string
	hourlyLimit  int
	dailyLimit   int
	safetyMargin int
	httpClient   *http.Client
	logger       zerolog.Logger

	mu       sync.Mutex
	requests int
	cache    map[string][]models.MarketBar
}

// NewClient creates a new market-data client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = DefaultHourlyLimit
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		hourlyLimit:  cfg.HourlyLimit,
		dailyLimit:   cfg.DailyLimit,
		safetyMargin: cfg.SafetyMargin,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger:       logger.With().Str("component", "marketdata").Logger(),
		cache:        make(map[string][]models.MarketBar),
	}
}

// Requests returns the number of provider requests issued so far.
func (c *Client) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// barQuery is the provider query string, encoded with go-querystring.
type barQuery struct {
	StartDate string `url:"startDate"`
	EndDate   string `url:"endDate"`
	Frequency string `url:"resampleFreq"`
	Token     string `url:"token"`
}

// barRow is the loose provider wire row; it is validated into a strict
// MarketBar at this boundary and dropped if malformed.
type barRow struct {
	Date   string   `json:"date"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`
}

// providerDay formats an instant as the provider's calendar-day parameter.
func providerDay(t time.Time) string {
	return t.In(calendar.EasternLocation).Format("2006-01-02")
}

// FetchBars returns ascending bars for ticker restricted to [start, end].
// The provider is queried with one day of end padding so the last session
// is fully captured, then results are filtered back to the requested bound.
// Identical (ticker, frequency, start-day, end-day) lookups are served from
// the in-memory cache without a network call.
func (c *Client) FetchBars(ctx context.Context, ticker string, start, end time.Time, freq models.BarFrequency) ([]models.MarketBar, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, apperrors.NewValidationError("ticker", ticker, "empty ticker")
	}
	if end.Before(start) {
		return nil, apperrors.NewValidationError("end", end, "end before start")
	}

	startDay := providerDay(start)
	endDay := providerDay(end.AddDate(0, 0, 1))
	key := ticker + "|" + string(freq) + "|" + startDay + "|" + endDay

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return filterRange(cached, start, end), nil
	}
	// Reserve budget before issuing the request. The counter is monotonic
	// for the client's lifetime; a refused call issues no request.
	effectiveHourly := c.hourlyLimit - c.safetyMargin
	effectiveDaily := c.dailyLimit - c.safetyMargin
	if c.requests >= effectiveHourly {
		n := c.requests
		c.mu.Unlock()
		return nil, apperrors.NewBudgetError(n, effectiveHourly, "hourly")
	}
	if c.requests >= effectiveDaily {
		n := c.requests
		c.mu.Unlock()
		return nil, apperrors.NewBudgetError(n, effectiveDaily, "daily")
	}
	c.requests++
	c.mu.Unlock()

	bars, err := c.queryProvider(ctx, ticker, startDay, endDay, freq)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = bars
	c.mu.Unlock()

	c.logger.Debug().
		Str("ticker", ticker).
		Str("start", startDay).
		Str("end", endDay).
		Int("bars", len(bars)).
		Msg("Fetched bars")

	return filterRange(bars, start, end), nil
}

// queryProvider issues the HTTP request and parses the response.
func (c *Client) queryProvider(ctx context.Context, ticker, startDay, endDay string, freq models.BarFrequency) ([]models.MarketBar, error) {
	q, err := query.Values(barQuery{
		StartDate: startDay,
		EndDate:   endDay,
		Frequency: string(freq),
		Token:     c.apiKey,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "encoding provider query")
	}

	url := fmt.Sprintf("%s/daily/%s/prices?%s", c.baseURL, ticker, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "building provider request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewProviderError(ticker, 0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.NewProviderError(ticker, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	var rows []barRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, apperrors.NewProviderError(ticker, resp.StatusCode, "malformed payload", err)
	}

	return parseRows(rows), nil
}

// parseRows converts wire rows into strict bars, silently dropping rows
// with unparsable timestamps or non-finite OHLC values. The result is
// ascending with duplicate timestamps removed.
func parseRows(rows []barRow) []models.MarketBar {
	bars := make([]models.MarketBar, 0, len(rows))
	for _, row := range rows {
		ts, ok := parseBarTime(row.Date)
		if !ok {
			continue
		}
		o, h, l, cl := deref(row.Open), deref(row.High), deref(row.Low), deref(row.Close)
		if !finite(o) || !finite(h) || !finite(l) || !finite(cl) {
			continue
		}
		var vol int64
		if row.Volume != nil && finite(*row.Volume) && *row.Volume >= 0 {
			vol = int64(*row.Volume)
		}
		bars = append(bars, models.MarketBar{
			Timestamp: ts,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     cl,
			Volume:    vol,
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	deduped := bars[:0]
	for i, b := range bars {
		if i > 0 && b.Timestamp.Equal(bars[i-1].Timestamp) {
			continue
		}
		deduped = append(deduped, b)
	}
	return deduped
}

var barTimeLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	time.RFC3339,
	"2006-01-02",
}

func parseBarTime(s string) (time.Time, bool) {
	for _, layout := range barTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func deref(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	return *f
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// filterRange restricts bars to [start, end] inclusive.
func filterRange(bars []models.MarketBar, start, end time.Time) []models.MarketBar {
	out := make([]models.MarketBar, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
