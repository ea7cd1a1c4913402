package repository

import (
	"context"
	"time"

	"FinScreen/internal/domain/models"

	"github.com/shopspring/decimal"
)

// FeedProvider streams live trade prints for a set of instruments.
// Subscribe fails with an error wrapping models.ErrTransport when the
// connection cannot be established. The returned channel is closed when the
// session ends; the last message then carries the transport error.
type FeedProvider interface {
	Subscribe(ctx context.Context, instruments []string) (<-chan models.FeedMessage, error)
	Unsubscribe() error
}

// BarsProvider returns historical bars ordered by close time.
type BarsProvider interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error)
}

// RateProvider returns how many units of quote one unit of base buys.
type RateProvider interface {
	GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// SymbolSource resolves the tradable universe.
type SymbolSource interface {
	FetchInstruments(ctx context.Context) ([]models.Instrument, error)
}

// MatchPublisher fans out the match set of a closed window.
type MatchPublisher interface {
	Publish(ctx context.Context, windowStart time.Time, matches []models.MatchRecord) error
	Close() error
}

// MatchArchive stores match records outside the process.
type MatchArchive interface {
	Store(ctx context.Context, matches []models.MatchRecord) error
	Close() error
}

type Metrics interface {
	RecordTradeIngested(symbol string)
	RecordDropped(reason string)
	RecordError(kind string)
	RecordReconnect()
	RecordGap(seconds float64)
	RecordWindowClosed(instruments int, gap bool)
	RecordMatches(rule string, n int)
	RecordBufferDepth(n int)
	RecordLatency(op string, seconds float64)
}
