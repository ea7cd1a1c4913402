package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	drepo "FinScreen/internal/domain/repository"
	"FinScreen/pkg/cache"
	applogger "FinScreen/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	RateLive     = "live"
	RateCache    = "cache"
	RateFallback = "fallback"
	// RateNone marks a currency with no live, cached or configured rate.
	// Its Rate is zero.
	RateNone = "none"
)

type RateConfig struct {
	Base            string
	Fallbacks       map[string]decimal.Decimal // keyed by quote currency
	RefreshInterval time.Duration
	Timeout         time.Duration
	CacheTTL        time.Duration
}

// RateQuote is the rate currently used for one target currency.
type RateQuote struct {
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
	Source    string          `json:"source"`
}

// RateKeeper keeps the last-known conversion rate of every tracked currency.
// Reads never block on the network. When no live rate was ever obtained the
// cached value is used, then the fallback configured for that currency.
// A currency with none of those has no rate at all.
type RateKeeper struct {
	provider drepo.RateProvider
	cache    cache.Service
	metrics  drepo.Metrics
	log      *applogger.Logger
	cfg      RateConfig
	now      func() time.Time

	mu      sync.RWMutex
	quotes  map[string]RateQuote
	tracked map[string]struct{}
	trigger chan struct{}
}

func NewRateKeeper(provider drepo.RateProvider, c cache.Service, metrics drepo.Metrics, log *applogger.Logger, cfg RateConfig) *RateKeeper {
	cfg.Base = strings.ToUpper(strings.TrimSpace(cfg.Base))
	if cfg.Base == "" {
		cfg.Base = "USD"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	fallbacks := make(map[string]decimal.Decimal, len(cfg.Fallbacks))
	for quote, rate := range cfg.Fallbacks {
		if rate.IsPositive() {
			fallbacks[strings.ToUpper(strings.TrimSpace(quote))] = rate
		}
	}
	cfg.Fallbacks = fallbacks
	return &RateKeeper{
		provider: provider,
		cache:    c,
		metrics:  metrics,
		log:      log.With(applogger.Component("rates")),
		cfg:      cfg,
		now:      time.Now,
		quotes:   make(map[string]RateQuote),
		tracked:  make(map[string]struct{}),
		trigger:  make(chan struct{}, 1),
	}
}

func (r *RateKeeper) Base() string { return r.cfg.Base }

// Rate returns the conversion rate from the base currency into quote.
func (r *RateKeeper) Rate(quote string) decimal.Decimal {
	return r.Quote(quote).Rate
}

// Quote returns the rate for quote together with where it came from.
func (r *RateKeeper) Quote(quote string) RateQuote {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" || quote == r.cfg.Base {
		return RateQuote{Base: r.cfg.Base, Quote: r.cfg.Base, Rate: decimal.NewFromInt(1), Source: RateLive}
	}
	r.mu.RLock()
	q, ok := r.quotes[quote]
	r.mu.RUnlock()
	if ok {
		return q
	}
	return r.fallback(quote)
}

// Available reports whether quote has a usable rate from any source.
func (r *RateKeeper) Available(quote string) bool {
	return r.Quote(quote).Source != RateNone
}

func (r *RateKeeper) fallback(quote string) RateQuote {
	if rate, ok := r.cfg.Fallbacks[quote]; ok {
		return RateQuote{Base: r.cfg.Base, Quote: quote, Rate: rate, Source: RateFallback}
	}
	return RateQuote{Base: r.cfg.Base, Quote: quote, Rate: decimal.Zero, Source: RateNone}
}

// Quotes returns every known quote.
func (r *RateKeeper) Quotes() []RateQuote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RateQuote, 0, len(r.quotes))
	for _, q := range r.quotes {
		out = append(out, q)
	}
	return out
}

// Track adds quote to the set refreshed by Run and schedules a refresh.
func (r *RateKeeper) Track(quote string) {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" || quote == r.cfg.Base {
		return
	}
	r.mu.Lock()
	_, known := r.tracked[quote]
	r.tracked[quote] = struct{}{}
	r.mu.Unlock()
	if !known {
		select {
		case r.trigger <- struct{}{}:
		default:
		}
	}
}

func (r *RateKeeper) trackedQuotes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tracked))
	for q := range r.tracked {
		out = append(out, q)
	}
	return out
}

func (r *RateKeeper) cacheKey(quote string) string {
	return cache.Key("rate", r.cfg.Base, quote)
}

// Refresh fetches a live rate for quote. On failure the previous value stays
// in place; if there is none, the cached rate or the fallback is returned.
func (r *RateKeeper) Refresh(ctx context.Context, quote string) (RateQuote, error) {
	quote = strings.ToUpper(strings.TrimSpace(quote))

	fctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	began := time.Now()
	rate, err := r.provider.GetRate(fctx, r.cfg.Base, quote)
	r.metrics.RecordLatency("rate_fetch", time.Since(began).Seconds())
	if err == nil && !rate.IsPositive() {
		err = fmt.Errorf("non-positive rate %s", rate)
	}
	if err != nil {
		r.metrics.RecordError("rate_fetch")
		q := r.lastKnown(ctx, quote)
		return q, fmt.Errorf("rate %s/%s: %w", r.cfg.Base, quote, err)
	}

	q := RateQuote{Base: r.cfg.Base, Quote: quote, Rate: rate, FetchedAt: r.now().UTC(), Source: RateLive}
	r.mu.Lock()
	r.quotes[quote] = q
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Set(ctx, r.cacheKey(quote), q, r.cfg.CacheTTL); err != nil {
			r.log.Warn("cache rate", applogger.String("quote", quote), applogger.Error(err))
		}
	}
	return q, nil
}

func (r *RateKeeper) lastKnown(ctx context.Context, quote string) RateQuote {
	r.mu.RLock()
	q, ok := r.quotes[quote]
	r.mu.RUnlock()
	if ok {
		return q
	}

	if r.cache != nil {
		var cached RateQuote
		err := r.cache.Get(ctx, r.cacheKey(quote), &cached)
		switch {
		case err == nil && cached.Rate.IsPositive():
			cached.Source = RateCache
			r.mu.Lock()
			r.quotes[quote] = cached
			r.mu.Unlock()
			return cached
		case err != nil && !errors.Is(err, cache.ErrCacheMiss):
			r.log.Warn("read cached rate", applogger.String("quote", quote), applogger.Error(err))
		}
	}
	return r.fallback(quote)
}

// RefreshAll refreshes every tracked quote.
func (r *RateKeeper) RefreshAll(ctx context.Context) {
	for _, quote := range r.trackedQuotes() {
		q, err := r.Refresh(ctx, quote)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("rate refresh failed, using last-known",
				applogger.String("quote", quote),
				applogger.Decimal("rate", q.Rate),
				applogger.String("source", q.Source),
				applogger.Error(err),
			)
			continue
		}
		r.log.Debug("rate refreshed", applogger.String("quote", quote), applogger.Decimal("rate", q.Rate))
	}
}

// Run refreshes tracked rates on the configured interval.
func (r *RateKeeper) Run(ctx context.Context) error {
	r.RefreshAll(ctx)
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.RefreshAll(ctx)
		case <-r.trigger:
			r.RefreshAll(ctx)
		}
	}
}
