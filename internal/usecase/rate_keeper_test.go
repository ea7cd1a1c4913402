package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/pkg/cache"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/metrics"

	"github.com/shopspring/decimal"
)

type fakeRates struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (f *fakeRates) GetRate(_ context.Context, _, _ string) (decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.rate, nil
}

func newTestRateKeeper(p *fakeRates, c cache.Service) *RateKeeper {
	return NewRateKeeper(p, c, metrics.Nop{}, applogger.Nop(), RateConfig{
		Base:      "usd",
		Fallbacks: map[string]decimal.Decimal{"inr": decimal.NewFromInt(83)},
	})
}

func TestRateKeeperFallbackBeforeFirstFetch(t *testing.T) {
	k := newTestRateKeeper(&fakeRates{}, nil)
	q := k.Quote("inr")
	if q.Source != RateFallback || !q.Rate.Equal(decimal.NewFromInt(83)) {
		t.Fatalf("unexpected quote %+v", q)
	}
	if !k.Rate("USD").Equal(decimal.NewFromInt(1)) {
		t.Fatalf("identity rate must be 1")
	}
}

func TestRateKeeperHasNoRateForUnconfiguredCurrency(t *testing.T) {
	k := newTestRateKeeper(&fakeRates{err: fmt.Errorf("%w: status 503", models.ErrTransport)}, nil)
	k.Track("EUR")
	q, err := k.Refresh(context.Background(), "EUR")
	if err == nil {
		t.Fatalf("expected error")
	}
	if q.Source != RateNone || !q.Rate.IsZero() || k.Available("EUR") {
		t.Fatalf("EUR must have no rate, got %+v", q)
	}
	if !k.Available("INR") || !k.Available("USD") {
		t.Fatalf("INR fallback and identity must be available")
	}

	snap := models.WindowSnapshot{
		Symbol:      "BTCUSDT",
		WindowStart: time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 3, 10, 9, 31, 0, 0, time.UTC),
		Volume:      decimal.NewFromInt(1),
		Notional:    decimal.NewFromInt(20000),
	}
	rule := models.ValueThresholdRule{Threshold: decimal.NewFromInt(1000000), Currency: "EUR"}
	if _, ok := Evaluate(snap, nil, rule, k.Rate("EUR")); ok {
		t.Fatalf("value rule must not match without a rate")
	}
}

func TestRateKeeperKeepsLastKnownOnFailure(t *testing.T) {
	p := &fakeRates{rate: decimal.RequireFromString("83.25")}
	k := newTestRateKeeper(p, nil)

	if _, err := k.Refresh(context.Background(), "INR"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	p.err = fmt.Errorf("%w: status 500", models.ErrTransport)
	q, err := k.Refresh(context.Background(), "INR")
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !q.Rate.Equal(decimal.RequireFromString("83.25")) || q.Source != RateLive {
		t.Fatalf("last-known not kept: %+v", q)
	}
	if !k.Rate("INR").Equal(decimal.RequireFromString("83.25")) {
		t.Fatalf("Rate = %s", k.Rate("INR"))
	}
}

func TestRateKeeperRestoresFromCache(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()

	live := newTestRateKeeper(&fakeRates{rate: decimal.RequireFromString("84.1")}, mem)
	if _, err := live.Refresh(context.Background(), "INR"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// a fresh process with the upstream down still finds the cached rate
	cold := newTestRateKeeper(&fakeRates{err: errors.New("dial tcp: refused")}, mem)
	q, err := cold.Refresh(context.Background(), "INR")
	if err == nil {
		t.Fatalf("expected error")
	}
	if q.Source != RateCache || !q.Rate.Equal(decimal.RequireFromString("84.1")) {
		t.Fatalf("unexpected quote %+v", q)
	}
	if cold.Quote("INR").Source != RateCache {
		t.Fatalf("cached rate not installed")
	}
}

func TestRateKeeperRejectsNonPositive(t *testing.T) {
	k := newTestRateKeeper(&fakeRates{rate: decimal.Zero}, nil)
	q, err := k.Refresh(context.Background(), "INR")
	if err == nil {
		t.Fatalf("expected error for zero rate")
	}
	if q.Source != RateFallback {
		t.Fatalf("expected fallback, got %+v", q)
	}
}

func TestRateKeeperRunRefreshesTracked(t *testing.T) {
	p := &fakeRates{rate: decimal.NewFromInt(90)}
	k := newTestRateKeeper(p, nil)
	k.Track("inr")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for k.Quote("INR").Source != RateLive {
		if time.Now().After(deadline) {
			t.Fatalf("rate never refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
