package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"FinScreen/internal/domain/models"
	mid "FinScreen/internal/middleware"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/metrics"

	"github.com/shopspring/decimal"
)

func newTestScreener(feed *fakeFeed, window time.Duration, symbols ...string) *Screener {
	log := applogger.Nop()
	m := metrics.Nop{}

	gaps := NewGapTracker(m)
	buf := mid.NewTradeBuffer(64, m)
	ing := NewTradeIngestor(feed, buf, gaps, m, log, IngestorConfig{ReconnectMin: time.Millisecond, ReconnectMax: 5 * time.Millisecond})
	agg := NewWindowAggregator(AggregatorConfig{Window: window}, gaps, m, log)

	bars := newFakeBars()
	for _, s := range symbols {
		bars.bars[s] = hourlyBars(120, "60") // 1 per minute
	}
	baselines := NewBaselineEstimator(bars, m, log, BaselineConfig{MinBars: 24, LookbackDays: 5})
	rates := NewRateKeeper(&fakeRates{rate: dec("83")}, nil, m, log, RateConfig{Base: "USD", Fallbacks: map[string]decimal.Decimal{"INR": dec("83")}})
	history := NewHistoryStore(0)
	rule := models.VolumeMultipleRule{Multiplier: dec("2"), LookbackDays: 5}
	engine := NewScreeningEngine(rule, baselines, rates, history, nil, nil, m, log, ScreeningConfig{DisplayCurrency: "INR"})
	catalog := NewSymbolCatalog(nil, log, CatalogConfig{Symbols: symbols})
	query := NewQueryFacade(engine, history, 100)

	return NewScreener(catalog, ing, agg, baselines, rates, engine, history, query, gaps, m, log, ScreenerConfig{
		Window:       window,
		ReconnectMin: time.Millisecond,
		ReconnectMax: 5 * time.Millisecond,
		StatsEvery:   10 * time.Millisecond,
	})
}

func TestScreenerEndToEnd(t *testing.T) {
	feed := newFakeFeed()
	s := newTestScreener(feed, 200*time.Millisecond, "BTCUSDT", "ETHUSDT")

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	session := feed.next(t)
	waitFor(t, "baselines", func() bool {
		available, _ := s.baselines.Coverage()
		return available == 2
	})
	session <- models.FeedMessage{Trade: trade("BTCUSDT", "10", "50", time.Now())}

	waitFor(t, "match in history", func() bool {
		p, err := s.Query().Query(CollectionHistory, "btc", 1, 10)
		return err == nil && p.Total == 1
	})
	p, _ := s.Query().Query(CollectionHistory, "", 1, 10)
	if p.Items[0].Symbol != "BTCUSDT" || !p.Items[0].Value.Equal(decimal.NewFromInt(500*83)) {
		t.Fatalf("unexpected match %+v", p.Items[0])
	}

	st := s.Status()
	if !st.Connected || st.Instruments != 2 || st.Baselines.Available != 2 || st.Rule.Kind != models.RuleVolumeMultiple {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(st.LastWindows) == 0 {
		t.Fatalf("no closed windows reported")
	}
	if st.UniverseAt.IsZero() || st.UniverseAt.Before(st.StartedAt) {
		t.Fatalf("universe load time not reported: %v", st.UniverseAt)
	}

	if err := s.Engine().SetRule(models.VolumeMultipleRule{Multiplier: dec("3"), LookbackDays: 7}); err != nil {
		t.Fatalf("SetRule: %v", err)
	}
	waitFor(t, "lookback applied", func() bool { return s.baselines.Lookback() == 7 })

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("screener did not stop")
	}
	if _, err := s.Query().Query(CollectionHistory, "", 1, 10); err != nil {
		t.Fatalf("history unreadable after stop: %v", err)
	}
}

func TestScreenerStopsOnUnrecoverableFeed(t *testing.T) {
	feed := newFakeFeed(fmt.Errorf("%w: bad url", models.ErrConfiguration))
	s := newTestScreener(feed, time.Minute, "BTCUSDT")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Run(ctx)
	if !errors.Is(err, models.ErrUnrecoverable) {
		t.Fatalf("expected unrecoverable error, got %v", err)
	}
}
