package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/util"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const minutesPerDay = 1440

type BaselineConfig struct {
	MinBars         int
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	Concurrency     int
	LookbackDays    int
}

// BaselineEstimator maintains the average per-minute volume of every
// instrument over the rule's lookback. Baselines are refreshed on their own
// cadence and read by the screening engine as an immutable snapshot.
type BaselineEstimator struct {
	bars    drepo.BarsProvider
	metrics drepo.Metrics
	log     *applogger.Logger
	cfg     BaselineConfig
	now     func() time.Time

	mu        sync.RWMutex
	baselines map[string]models.Baseline
	symbols   []string
	lookback  int

	trigger chan bool // true = refresh everything, false = only missing
}

func NewBaselineEstimator(bars drepo.BarsProvider, metrics drepo.Metrics, log *applogger.Logger, cfg BaselineConfig) *BaselineEstimator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Minute
	}
	if cfg.LookbackDays < models.MinLookbackDays || cfg.LookbackDays > models.MaxLookbackDays {
		cfg.LookbackDays = 5
	}
	return &BaselineEstimator{
		bars:      bars,
		metrics:   metrics,
		log:       log.With(applogger.Component("baseline")),
		cfg:       cfg,
		now:       time.Now,
		baselines: make(map[string]models.Baseline),
		lookback:  cfg.LookbackDays,
		trigger:   make(chan bool, 1),
	}
}

// Refresh recomputes one instrument's baseline over [now-lookbackDays, now).
// Too few bars yield an unavailable baseline without error. On a source
// failure the last-known baseline is kept and returned with the error.
func (b *BaselineEstimator) Refresh(ctx context.Context, symbol string, lookbackDays int) (models.Baseline, error) {
	if lookbackDays < models.MinLookbackDays || lookbackDays > models.MaxLookbackDays {
		return models.Baseline{}, fmt.Errorf("%w: lookback %d days outside %d..%d",
			models.ErrConfiguration, lookbackDays, models.MinLookbackDays, models.MaxLookbackDays)
	}

	end := b.now().UTC()
	start := end.Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	fctx, cancel := context.WithTimeout(ctx, b.cfg.FetchTimeout)
	defer cancel()
	began := time.Now()
	bars, err := b.bars.FetchBars(fctx, symbol, start, end)
	b.metrics.RecordLatency("baseline_fetch", time.Since(began).Seconds())
	if err != nil {
		b.metrics.RecordError("baseline_fetch")
		last, _ := b.Get(symbol)
		return last, fmt.Errorf("baseline %s: %w", symbol, err)
	}

	bl := computeBaseline(symbol, bars, lookbackDays, b.cfg.MinBars, end)
	if !bl.Available {
		b.log.Debug("baseline unavailable",
			applogger.String("symbol", symbol),
			applogger.Error(fmt.Errorf("%w: %d bars, need %d", models.ErrDataInsufficient, len(bars), b.cfg.MinBars)),
		)
	}
	b.mu.Lock()
	b.baselines[symbol] = bl
	b.mu.Unlock()
	return bl, nil
}

func computeBaseline(symbol string, bars []models.Bar, lookbackDays, minBars int, at time.Time) models.Baseline {
	bl := models.Baseline{
		Symbol:       symbol,
		Bars:         len(bars),
		LookbackDays: lookbackDays,
		ComputedAt:   at,
	}
	if len(bars) == 0 || len(bars) < minBars {
		return bl
	}
	total := decimal.Zero
	for _, bar := range bars {
		total = total.Add(bar.Volume)
	}
	bl.AvgPerMinute = total.Div(decimal.NewFromInt(int64(lookbackDays * minutesPerDay)))
	bl.Available = true
	return bl
}

// RefreshAll refreshes every tracked instrument with bounded concurrency.
// Individual failures do not stop the others.
func (b *BaselineEstimator) RefreshAll(ctx context.Context) error {
	return b.refresh(ctx, b.Symbols())
}

func (b *BaselineEstimator) refresh(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	lookback := b.Lookback()
	began := time.Now()

	var (
		mu       sync.Mutex
		failed   int
		firstErr error
	)
	var g errgroup.Group
	g.SetLimit(b.cfg.Concurrency)
	for _, s := range symbols {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := b.Refresh(ctx, s, lookback); err != nil {
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	available, total := b.Coverage()
	b.log.Info("baselines refreshed",
		applogger.Int("requested", len(symbols)),
		applogger.Int("failed", failed),
		applogger.Int("available", available),
		applogger.Int("tracked", total),
		applogger.Int("lookback_days", lookback),
		applogger.Duration("duration_ms", time.Since(began)),
	)
	if firstErr != nil {
		return fmt.Errorf("%d of %d baselines failed: %w", failed, len(symbols), firstErr)
	}
	return nil
}

// Run refreshes on the configured interval and whenever the lookback or the
// universe changes.
func (b *BaselineEstimator) Run(ctx context.Context) error {
	if err := b.RefreshAll(ctx); err != nil {
		b.log.Warn("initial baseline refresh incomplete", applogger.Error(err))
	}

	ticker := time.NewTicker(b.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err = b.RefreshAll(ctx)
		case all := <-b.trigger:
			if all {
				err = b.RefreshAll(ctx)
			} else {
				err = b.refresh(ctx, b.missing())
			}
		}
		if err != nil && ctx.Err() == nil {
			b.log.Warn("baseline refresh incomplete", applogger.Error(err))
		}
	}
}

func (b *BaselineEstimator) signal(all bool) {
	select {
	case b.trigger <- all:
	default:
		if all {
			// upgrade a pending partial refresh
			select {
			case <-b.trigger:
			default:
			}
			select {
			case b.trigger <- true:
			default:
			}
		}
	}
}

// SetLookback changes the lookback used by refreshes and triggers an
// immediate full refresh when it differs from the current one.
func (b *BaselineEstimator) SetLookback(days int) {
	if days < models.MinLookbackDays || days > models.MaxLookbackDays {
		return
	}
	b.mu.Lock()
	changed := b.lookback != days
	b.lookback = days
	b.mu.Unlock()
	if changed {
		b.log.Info("lookback changed", applogger.Int("lookback_days", days))
		b.signal(true)
	}
}

// SetSymbols replaces the tracked universe, forgets removed instruments and
// fetches baselines for new ones.
func (b *BaselineEstimator) SetSymbols(symbols []string) {
	list := util.NormalizeSymbols(symbols)
	keep := make(map[string]struct{}, len(list))
	for _, s := range list {
		keep[s] = struct{}{}
	}

	b.mu.Lock()
	b.symbols = list
	for s := range b.baselines {
		if _, ok := keep[s]; !ok {
			delete(b.baselines, s)
		}
	}
	b.mu.Unlock()
	b.signal(false)
}

func (b *BaselineEstimator) missing() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for _, s := range b.symbols {
		if _, ok := b.baselines[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func (b *BaselineEstimator) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.symbols...)
}

func (b *BaselineEstimator) Lookback() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookback
}

func (b *BaselineEstimator) Get(symbol string) (models.Baseline, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bl, ok := b.baselines[symbol]
	return bl, ok
}

// Snapshot returns a copy of all baselines.
func (b *BaselineEstimator) Snapshot() map[string]models.Baseline {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]models.Baseline, len(b.baselines))
	for k, v := range b.baselines {
		out[k] = v
	}
	return out
}

// Coverage returns how many tracked instruments have a usable baseline.
func (b *BaselineEstimator) Coverage() (available, total int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.symbols {
		if bl, ok := b.baselines[s]; ok && bl.Available {
			available++
		}
	}
	return available, len(b.symbols)
}
