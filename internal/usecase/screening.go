package usecase

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Evaluate classifies one window snapshot against rule. rate converts the
// quote currency into the display currency of the record. A missing or
// unavailable baseline never matches the volume rule, and a non-positive
// rate never matches the value rule.
func Evaluate(snap models.WindowSnapshot, baseline *models.Baseline, rule models.Rule, rate decimal.Decimal) (models.MatchRecord, bool) {
	rec := models.MatchRecord{
		Symbol:      snap.Symbol,
		Rule:        rule.Kind(),
		WindowStart: snap.WindowStart,
		Volume:      snap.Volume,
		Notional:    snap.Notional,
		Value:       snap.Notional.Mul(rate),
		Rate:        rate,
	}

	switch r := rule.(type) {
	case models.VolumeMultipleRule:
		if baseline == nil || !baseline.Available || !baseline.AvgPerMinute.IsPositive() {
			return models.MatchRecord{}, false
		}
		expected := baseline.AvgPerMinute.Mul(windowMinutes(snap))
		if !expected.IsPositive() {
			return models.MatchRecord{}, false
		}
		rec.AvgVolume = expected
		rec.Multiple = snap.Volume.Div(expected)
		return rec, snap.Volume.GreaterThan(r.Multiplier.Mul(expected))

	case models.ValueThresholdRule:
		rec.Currency = r.Currency
		if baseline != nil && baseline.Available {
			rec.AvgVolume = baseline.AvgPerMinute.Mul(windowMinutes(snap))
			if rec.AvgVolume.IsPositive() {
				rec.Multiple = snap.Volume.Div(rec.AvgVolume)
			}
		}
		if !rate.IsPositive() {
			return models.MatchRecord{}, false
		}
		return rec, rec.Value.GreaterThan(r.Threshold)
	}
	return models.MatchRecord{}, false
}

func windowMinutes(snap models.WindowSnapshot) decimal.Decimal {
	d := snap.WindowEnd.Sub(snap.WindowStart)
	if d <= 0 || d == time.Minute {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Minute)))
}

// BaselineSnapshotter exposes the current baselines.
type BaselineSnapshotter interface {
	Snapshot() map[string]models.Baseline
}

// RateSource returns the last-known rate into a currency without blocking.
type RateSource interface {
	Rate(quote string) decimal.Decimal
}

type ScreeningConfig struct {
	DisplayCurrency string
	SinkTimeout     time.Duration
}

// CurrentSet is the match set of the most recently screened window.
type CurrentSet struct {
	WindowStart time.Time            `json:"window_start"`
	WindowEnd   time.Time            `json:"window_end"`
	Gap         bool                 `json:"gap"`
	Rule        models.RuleSpec      `json:"rule"`
	Matches     []models.MatchRecord `json:"matches"`
}

// ScreeningEngine applies the active rule to every closed window, keeps the
// current match set and hands matches to history and the outbound sinks.
type ScreeningEngine struct {
	baselines BaselineSnapshotter
	rates     RateSource
	history   *HistoryStore
	publisher drepo.MatchPublisher
	archive   drepo.MatchArchive
	metrics   drepo.Metrics
	log       *applogger.Logger
	cfg       ScreeningConfig

	mu        sync.RWMutex
	rule      models.Rule
	current   CurrentSet
	listeners []func(models.Rule)
}

func NewScreeningEngine(
	rule models.Rule,
	baselines BaselineSnapshotter,
	rates RateSource,
	history *HistoryStore,
	publisher drepo.MatchPublisher,
	archive drepo.MatchArchive,
	metrics drepo.Metrics,
	log *applogger.Logger,
	cfg ScreeningConfig,
) *ScreeningEngine {
	cfg.DisplayCurrency = strings.ToUpper(strings.TrimSpace(cfg.DisplayCurrency))
	if cfg.DisplayCurrency == "" {
		cfg.DisplayCurrency = "INR"
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	return &ScreeningEngine{
		rule:      rule,
		baselines: baselines,
		rates:     rates,
		history:   history,
		publisher: publisher,
		archive:   archive,
		metrics:   metrics,
		log:       log.With(applogger.Component("screening")),
		cfg:       cfg,
	}
}

// Rule returns the active rule.
func (e *ScreeningEngine) Rule() models.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rule
}

// SetRule validates and installs a new rule. It applies from the next closed
// window on; history is never reclassified.
func (e *ScreeningEngine) SetRule(rule models.Rule) error {
	if rule == nil {
		return models.ErrConfiguration
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rule = rule
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	spec := models.SpecOf(rule)
	e.log.Info("rule changed",
		applogger.String("kind", string(spec.Kind)),
		applogger.Decimal("multiplier", spec.Multiplier),
		applogger.Int("lookback_days", spec.LookbackDays),
		applogger.Decimal("threshold", spec.Threshold),
		applogger.String("currency", spec.Currency),
	)
	for _, fn := range listeners {
		fn(rule)
	}
	return nil
}

// OnRuleChange registers fn to be called after every successful SetRule.
func (e *ScreeningEngine) OnRuleChange(fn func(models.Rule)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Currency returns the currency match values are expressed in under rule.
func (e *ScreeningEngine) Currency(rule models.Rule) string {
	if r, ok := rule.(models.ValueThresholdRule); ok && r.Currency != "" {
		return r.Currency
	}
	return e.cfg.DisplayCurrency
}

// Current returns a copy of the current match set.
func (e *ScreeningEngine) Current() CurrentSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cs := e.current
	cs.Matches = append([]models.MatchRecord(nil), e.current.Matches...)
	return cs
}

// Screen evaluates a closed window, replaces the current set and records the
// matches in history. Sinks are notified best-effort.
func (e *ScreeningEngine) Screen(ctx context.Context, res models.WindowResult) CurrentSet {
	began := time.Now()
	rule := e.Rule()
	currency := e.Currency(rule)
	rate := e.rates.Rate(currency)
	if !rate.IsPositive() && rule.Kind() == models.RuleValueThreshold {
		e.metrics.RecordError("rate_unavailable")
		e.log.Warn("no rate for currency, value rule cannot match",
			applogger.String("currency", currency),
			applogger.Time("window_start", res.WindowStart),
		)
	}
	baselines := e.baselines.Snapshot()

	matches := make([]models.MatchRecord, 0)
	for _, snap := range res.Snapshots {
		var bl *models.Baseline
		if b, ok := baselines[snap.Symbol]; ok {
			bl = &b
		}
		rec, ok := Evaluate(snap, bl, rule, rate)
		if !ok {
			continue
		}
		rec.Currency = currency
		rec.Gap = res.Gap
		matches = append(matches, rec)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Symbol < matches[j].Symbol })

	cs := CurrentSet{
		WindowStart: res.WindowStart,
		WindowEnd:   res.WindowEnd,
		Gap:         res.Gap,
		Rule:        models.SpecOf(rule),
		Matches:     matches,
	}
	e.mu.Lock()
	e.current = cs
	e.mu.Unlock()

	if e.history != nil {
		e.history.Append(matches, res.WindowStart)
	}
	e.metrics.RecordMatches(string(rule.Kind()), len(matches))
	e.metrics.RecordLatency("screen", time.Since(began).Seconds())
	e.log.Info("window screened",
		applogger.Time("window_start", res.WindowStart),
		applogger.Int("instruments", len(res.Snapshots)),
		applogger.Int("matches", len(matches)),
		applogger.Bool("gap", res.Gap),
	)

	if len(matches) > 0 {
		e.deliver(ctx, res.WindowStart, matches)
	}
	return cs
}

func (e *ScreeningEngine) deliver(ctx context.Context, windowStart time.Time, matches []models.MatchRecord) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SinkTimeout)
	defer cancel()

	var g errgroup.Group
	if e.publisher != nil {
		g.Go(func() error {
			if err := e.publisher.Publish(sctx, windowStart, matches); err != nil {
				e.metrics.RecordError("publish_matches")
				e.log.Error("publish matches", applogger.Time("window_start", windowStart), applogger.Error(err))
			}
			return nil
		})
	}
	if e.archive != nil {
		g.Go(func() error {
			if err := e.archive.Store(sctx, matches); err != nil {
				e.metrics.RecordError("archive_matches")
				e.log.Error("archive matches", applogger.Time("window_start", windowStart), applogger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Run screens every window delivered on results until the channel closes or
// ctx is cancelled.
func (e *ScreeningEngine) Run(ctx context.Context, results <-chan models.WindowResult) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-results:
			if !ok {
				return nil
			}
			e.Screen(ctx, res)
		}
	}
}
