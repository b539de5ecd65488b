// Package calendar provides Eastern-time market calendar arithmetic.
// All functions are pure; no holiday table is applied (weekends only).
package calendar

import (
	"time"
)

// Regular session bounds for US equities, Eastern time.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0
)

// EasternLocation is the timezone for the US equities calendar.
var EasternLocation *time.Location

func init() {
	var err error
	EasternLocation, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback to UTC-5; DST correctness is lost but the engine keeps running.
		EasternLocation = time.FixedZone("EST", -5*60*60)
	}
}

// Components holds the Eastern wall-clock breakdown of an instant.
type Components struct {
	Year             int
	Month            time.Month
	Day              int
	Hour             int
	Minute           int
	Second           int
	Weekday          time.Weekday
	UTCOffsetMinutes int
}

// EasternComponents returns the Eastern wall-clock components of t,
// correct across standard/daylight offset changes.
func EasternComponents(t time.Time) Components {
	et := t.In(EasternLocation)
	_, offset := et.Zone()
	return Components{
		Year:             et.Year(),
		Month:            et.Month(),
		Day:              et.Day(),
		Hour:             et.Hour(),
		Minute:           et.Minute(),
		Second:           et.Second(),
		Weekday:          et.Weekday(),
		UTCOffsetMinutes: offset / 60,
	}
}

// MarketOpen returns the 9:30 ET instant of the calendar day containing t.
func MarketOpen(t time.Time) time.Time {
	et := t.In(EasternLocation)
	return time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, EasternLocation)
}

// MarketClose returns the 16:00 ET instant of the calendar day containing t.
func MarketClose(t time.Time) time.Time {
	et := t.In(EasternLocation)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, EasternLocation)
}

// IsWeekend reports whether t falls on a Saturday or Sunday in Eastern time.
func IsWeekend(t time.Time) bool {
	wd := t.In(EasternLocation).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// NextBusinessDay returns the following calendar day, advanced until it is
// not a weekend. Market holidays are not considered.
func NextBusinessDay(t time.Time) time.Time {
	et := t.In(EasternLocation)
	next := et.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Window is a valid monitoring interval; Start is never on a weekend and
// Start <= Close always holds.
type Window struct {
	Start time.Time
	Close time.Time
}

// MonitorWindow computes the valid monitoring window for an alert sent at
// alertedAt:
//   - inside the session: start at alertedAt, close at that day's close
//   - on a weekend: open..close of the next business day
//   - before the open: open..close of the same day
//   - at/after the close: open..close of the next business day
func MonitorWindow(alertedAt time.Time) Window {
	if IsWeekend(alertedAt) {
		day := NextBusinessDay(alertedAt)
		start := MarketOpen(day)
		return Window{Start: start, Close: MarketClose(start)}
	}

	open := MarketOpen(alertedAt)
	close := MarketClose(alertedAt)

	switch {
	case alertedAt.Before(open):
		return Window{Start: open, Close: close}
	case !alertedAt.Before(close): // at or after the close
		day := NextBusinessDay(alertedAt)
		start := MarketOpen(day)
		return Window{Start: start, Close: MarketClose(start)}
	default:
		return Window{Start: alertedAt, Close: close}
	}
}
