package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"FinScreen/internal/domain/models"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/metrics"

	"github.com/shopspring/decimal"
)

type fakeBars struct {
	mu    sync.Mutex
	bars  map[string][]models.Bar
	fail  map[string]error
	calls map[string]int
	spans map[string][2]time.Time
}

func newFakeBars() *fakeBars {
	return &fakeBars{
		bars:  make(map[string][]models.Bar),
		fail:  make(map[string]error),
		calls: make(map[string]int),
		spans: make(map[string][2]time.Time),
	}
}

func (f *fakeBars) FetchBars(_ context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	f.spans[symbol] = [2]time.Time{start, end}
	if err := f.fail[symbol]; err != nil {
		return nil, err
	}
	return f.bars[symbol], nil
}

func hourlyBars(n int, volume string) []models.Bar {
	out := make([]models.Bar, n)
	for i := range out {
		out[i] = models.Bar{Volume: decimal.RequireFromString(volume)}
	}
	return out
}

func newTestEstimator(bars *fakeBars, minBars int) *BaselineEstimator {
	b := NewBaselineEstimator(bars, metrics.Nop{}, applogger.Nop(), BaselineConfig{MinBars: minBars, LookbackDays: 5})
	b.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestBaselineRefreshAverage(t *testing.T) {
	bars := newFakeBars()
	// 120 hourly bars of 6000 over 5 days: 720000 / 7200 minutes = 100
	bars.bars["BTCUSDT"] = hourlyBars(120, "6000")
	b := newTestEstimator(bars, 24)

	bl, err := b.Refresh(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !bl.Available {
		t.Fatalf("expected available baseline")
	}
	if !bl.AvgPerMinute.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("avg = %s, want 100", bl.AvgPerMinute)
	}
	span := bars.spans["BTCUSDT"]
	if got := span[1].Sub(span[0]); got != 5*24*time.Hour {
		t.Fatalf("fetched span %s, want 120h", got)
	}
}

func TestBaselineTooFewBars(t *testing.T) {
	bars := newFakeBars()
	bars.bars["NEWUSDT"] = hourlyBars(3, "10")
	b := newTestEstimator(bars, 24)

	bl, err := b.Refresh(context.Background(), "NEWUSDT", 5)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if bl.Available {
		t.Fatalf("expected unavailable baseline for 3 bars")
	}

	bl, err = b.Refresh(context.Background(), "EMPTYUSDT", 5)
	if err != nil {
		t.Fatalf("Refresh empty: %v", err)
	}
	if bl.Available || bl.Bars != 0 {
		t.Fatalf("expected no-data baseline, got %+v", bl)
	}
}

func TestBaselineFailureKeepsLastKnown(t *testing.T) {
	bars := newFakeBars()
	bars.bars["ETHUSDT"] = hourlyBars(120, "6000")
	b := newTestEstimator(bars, 24)

	if _, err := b.Refresh(context.Background(), "ETHUSDT", 5); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	bars.fail["ETHUSDT"] = fmt.Errorf("%w: status 503", models.ErrTransport)

	bl, err := b.Refresh(context.Background(), "ETHUSDT", 5)
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !bl.Available || !bl.AvgPerMinute.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("last-known baseline not returned: %+v", bl)
	}
	if got, _ := b.Get("ETHUSDT"); !got.Available {
		t.Fatalf("last-known baseline was dropped")
	}
}

func TestBaselineRejectsLookback(t *testing.T) {
	b := newTestEstimator(newFakeBars(), 1)
	if _, err := b.Refresh(context.Background(), "BTCUSDT", 31); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBaselineRefreshAllIsolatesFailures(t *testing.T) {
	bars := newFakeBars()
	bars.bars["AUSDT"] = hourlyBars(30, "1")
	bars.bars["CUSDT"] = hourlyBars(30, "1")
	bars.fail["BUSDT"] = fmt.Errorf("%w: timeout", models.ErrTransport)
	b := newTestEstimator(bars, 24)
	b.SetSymbols([]string{"AUSDT", "BUSDT", "CUSDT"})

	err := b.RefreshAll(context.Background())
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected aggregated transport error, got %v", err)
	}
	available, total := b.Coverage()
	if available != 2 || total != 3 {
		t.Fatalf("coverage = %d/%d, want 2/3", available, total)
	}
}

func TestBaselineSetSymbolsPrunes(t *testing.T) {
	bars := newFakeBars()
	bars.bars["AUSDT"] = hourlyBars(30, "1")
	bars.bars["BUSDT"] = hourlyBars(30, "1")
	b := newTestEstimator(bars, 24)
	b.SetSymbols([]string{"AUSDT", "BUSDT"})
	if err := b.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	b.SetSymbols([]string{"busdt"})
	snap := b.Snapshot()
	if _, ok := snap["AUSDT"]; ok {
		t.Fatalf("removed symbol still has a baseline")
	}
	if _, ok := snap["BUSDT"]; !ok {
		t.Fatalf("kept symbol lost its baseline")
	}
	if missing := b.missing(); len(missing) != 0 {
		t.Fatalf("missing = %v", missing)
	}
}

func TestBaselineSetLookbackTriggersFullRefresh(t *testing.T) {
	b := newTestEstimator(newFakeBars(), 1)
	b.SetLookback(5)
	select {
	case <-b.trigger:
		t.Fatalf("unchanged lookback should not trigger")
	default:
	}

	b.SetSymbols([]string{"AUSDT"})
	b.SetLookback(7)
	select {
	case all := <-b.trigger:
		if !all {
			t.Fatalf("expected full refresh trigger")
		}
	default:
		t.Fatalf("expected a trigger")
	}
	if b.Lookback() != 7 {
		t.Fatalf("lookback = %d", b.Lookback())
	}
}
