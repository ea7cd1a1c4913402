package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WindowSnapshot holds the totals of one instrument for one closed window.
type WindowSnapshot struct {
	Symbol      string
	WindowStart time.Time
	WindowEnd   time.Time
	Volume      decimal.Decimal
	Notional    decimal.Decimal
	Trades      int
}

// WindowResult is everything the aggregator emits at a rollover.
type WindowResult struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Snapshots   []WindowSnapshot
	Gap         bool // feed was down for part of the window
}

// Baseline is the smoothed historical per-minute volume of an instrument.
// Available is false when too few bars were found ("no data"), which is
// not the same as a zero average.
type Baseline struct {
	Symbol       string          `json:"symbol"`
	AvgPerMinute decimal.Decimal `json:"avg_per_minute"`
	Bars         int             `json:"bars"`
	LookbackDays int             `json:"lookback_days"`
	ComputedAt   time.Time       `json:"computed_at"`
	Available    bool            `json:"available"`
}

// MatchRecord is an instrument that satisfied the active rule in a window.
// Immutable once produced.
type MatchRecord struct {
	Symbol      string          `json:"symbol"`
	Rule        RuleKind        `json:"rule"`
	WindowStart time.Time       `json:"window_start"`
	Volume      decimal.Decimal `json:"volume"`
	AvgVolume   decimal.Decimal `json:"avg_volume"`
	Multiple    decimal.Decimal `json:"multiple"`
	Notional    decimal.Decimal `json:"notional"`
	Value       decimal.Decimal `json:"value"`              // notional in target currency
	Currency    string          `json:"currency,omitempty"` // target currency of Value
	Rate        decimal.Decimal `json:"rate"`
	Gap         bool            `json:"gap"`
}
