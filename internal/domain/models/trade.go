package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a tradable contract from the exchange universe.
type Instrument struct {
	Symbol       string `json:"symbol"`
	BaseAsset    string `json:"base_asset"`
	QuoteAsset   string `json:"quote_asset"`
	ContractType string `json:"contract_type"`
}

// TradeEvent is a single normalized trade print. Never mutated after creation.
type TradeEvent struct {
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	EventTime time.Time // UTC
}

// Notional returns price * quantity.
func (t TradeEvent) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// FeedMessage is one decoded frame from a feed provider.
// Err wraps ErrParse for a dropped frame or ErrTransport when the session ended.
type FeedMessage struct {
	Trade TradeEvent
	Err   error
}

// Bar is a historical candle reduced to what baselines need.
type Bar struct {
	Volume    decimal.Decimal
	CloseTime time.Time
}

// Gap is an interval during which the live feed was disconnected.
// An open gap has a zero End.
type Gap struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Open reports whether the feed is still down.
func (g Gap) Open() bool { return g.End.IsZero() }

// Overlaps reports whether the gap intersects [start, end). Open gaps extend to now.
func (g Gap) Overlaps(start, end, now time.Time) bool {
	gEnd := g.End
	if gEnd.IsZero() {
		gEnd = now
	}
	return g.Start.Before(end) && gEnd.After(start)
}
