// Package models provides domain models for the price-watch engine.
package models

import (
	"time"
)

// WatchStatus represents the lifecycle state of a watch task.
type WatchStatus string

const (
	WatchPending   WatchStatus = "pending"
	WatchTriggered WatchStatus = "triggered"
	WatchExpired   WatchStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s WatchStatus) Terminal() bool {
	return s == WatchTriggered || s == WatchExpired
}

// Stop reasons recorded when a watch leaves the pending state.
const (
	StopTriggered         = "triggered"
	StopAboveFifteenPct   = "above_15pct"
	StopMarketClose       = "market_close"
	StopInvalidEntryPrice = "invalid_entry_price"
)

// MaxTickerLen is the longest ticker symbol accepted for watching.
const MaxTickerLen = 8

// MarketBar represents one OHLCV price sample for a ticker.
type MarketBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// BarFrequency is the provider sampling interval for bar requests.
type BarFrequency string

const (
	FreqDaily  BarFrequency = "daily"
	FreqHourly BarFrequency = "1hour"
	Freq5Min   BarFrequency = "5min"
)

// WatchSeed is the input to the scheduler: one alerted post+ticker pair.
type WatchSeed struct {
	PostID               string    `csv:"post_id" json:"post_id"`
	Ticker               string    `csv:"ticker" json:"ticker"`
	QualityScore         int       `csv:"quality_score" json:"quality_score"`
	AlertedAt            time.Time `csv:"alerted_at" json:"alerted_at"`
	EntryPrice           float64   `csv:"entry_price" json:"entry_price"`
	EntryPriceObservedAt time.Time `csv:"entry_price_observed_at" json:"entry_price_observed_at"`
}

// WatchTask is a persisted monitor of one (post, ticker) pair from alert
// time until it triggers or expires. Unique per (PostID, Ticker).
type WatchTask struct {
	ID                   string
	PostID               string
	Ticker               string
	QualityScore         int
	EntryPrice           float64
	EntryPriceObservedAt time.Time
	AlertedAt            time.Time
	MonitorStart         time.Time
	MonitorClose         time.Time
	NextCheckAt          *time.Time
	LastPrice            *float64
	LastPriceObservedAt  *time.Time
	Status               WatchStatus
	StopReason           *string
	TriggeredAt          *time.Time
	TriggeredPrice       *float64
	TriggeredMovePct     *float64
	CreatedAt            time.Time
}

// TriggeredAlert is emitted when a watch transitions to triggered; the
// caller formats and delivers it.
type TriggeredAlert struct {
	Ticker       string    `json:"ticker"`
	PostID       string    `json:"post_id"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	MovePct      float64   `json:"move_pct"`
	AlertedAt    time.Time `json:"alerted_at"`
	TriggeredAt  time.Time `json:"triggered_at"`
}

// WatchedPosition is a user-held position re-checked for adverse moves,
// independent of any alerted post.
type WatchedPosition struct {
	ID                string
	Ticker            string
	Shares            float64
	Watch             bool
	LastPrice         *float64
	LastPriceAt       *time.Time
	AlertThresholdPct float64 // adverse-move trigger, e.g. 0.05
	LastAlertPrice    *float64
	LastAlertAt       *time.Time
	LastAlertMovePct  *float64
}

// AdverseMoveAlert is emitted when a watched position drops past its
// threshold relative to its previously observed price.
type AdverseMoveAlert struct {
	Ticker       string    `json:"ticker"`
	PositionID   string    `json:"position_id"`
	Shares       float64   `json:"shares"`
	PrevPrice    float64   `json:"prev_price"`
	CurrentPrice float64   `json:"current_price"`
	MovePct      float64   `json:"move_pct"`
	ObservedAt   time.Time `json:"observed_at"`
}

// SweepStats summarizes one processor sweep.
type SweepStats struct {
	Checked            int              `json:"checked"`
	Triggered          []TriggeredAlert `json:"triggered"`
	Expired            int              `json:"expired"`
	Rescheduled        int              `json:"rescheduled"`
	DataUnavailable    int              `json:"data_unavailable"`
	ExceededFifteenPct int              `json:"exceeded_fifteen_pct"`
}
