package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"

	"golang.org/x/sync/errgroup"
)

type ScreenerConfig struct {
	Window       time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	StatsEvery   time.Duration
}

// Screener wires the pipeline together: catalog -> ingestor -> aggregator ->
// screening engine -> history, with baselines and rates refreshed alongside.
type Screener struct {
	catalog    *SymbolCatalog
	ingestor   *TradeIngestor
	aggregator *WindowAggregator
	baselines  *BaselineEstimator
	rates      *RateKeeper
	engine     *ScreeningEngine
	history    *HistoryStore
	query      *QueryFacade
	gaps       *GapTracker
	metrics    drepo.Metrics
	log        *applogger.Logger
	cfg        ScreenerConfig

	mu        sync.Mutex
	cancel    context.CancelFunc
	startedAt time.Time
}

func NewScreener(
	catalog *SymbolCatalog,
	ingestor *TradeIngestor,
	aggregator *WindowAggregator,
	baselines *BaselineEstimator,
	rates *RateKeeper,
	engine *ScreeningEngine,
	history *HistoryStore,
	query *QueryFacade,
	gaps *GapTracker,
	metrics drepo.Metrics,
	log *applogger.Logger,
	cfg ScreenerConfig,
) *Screener {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = 5 * time.Second
	}
	return &Screener{
		catalog:    catalog,
		ingestor:   ingestor,
		aggregator: aggregator,
		baselines:  baselines,
		rates:      rates,
		engine:     engine,
		history:    history,
		query:      query,
		gaps:       gaps,
		metrics:    metrics,
		log:        log.With(applogger.Component("screener")),
		cfg:        cfg,
	}
}

func (s *Screener) Engine() *ScreeningEngine { return s.engine }
func (s *Screener) Query() *QueryFacade      { return s.query }
func (s *Screener) Catalog() *SymbolCatalog  { return s.catalog }

// Run blocks until ctx is cancelled, Stop is called or the ingestor fails
// for good. A clean shutdown returns nil.
func (s *Screener) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("screener already running")
	}
	s.cancel = cancel
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.loadUniverse(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	symbols := s.catalog.Symbols()

	rule := s.engine.Rule()
	s.baselines.SetSymbols(symbols)
	if r, ok := rule.(models.VolumeMultipleRule); ok {
		s.baselines.SetLookback(r.LookbackDays)
	}
	s.rates.Track(s.engine.Currency(rule))

	s.catalog.OnChange(func(list []string) {
		s.ingestor.SetInstruments(list)
		s.aggregator.SetUniverse(list)
		s.baselines.SetSymbols(list)
	})
	s.engine.OnRuleChange(func(r models.Rule) {
		if v, ok := r.(models.VolumeMultipleRule); ok {
			s.baselines.SetLookback(v.LookbackDays)
		}
		s.rates.Track(s.engine.Currency(r))
	})

	events, err := s.ingestor.Start(ctx, symbols)
	if err != nil {
		return err
	}
	s.log.Info("screener started",
		applogger.Int("instruments", len(symbols)),
		applogger.Duration("window_ms", s.cfg.Window),
		applogger.String("rule", string(rule.Kind())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.aggregator.Run(gctx, events, symbols) })
	g.Go(func() error { return s.engine.Run(gctx, s.aggregator.Results()) })
	g.Go(func() error { return s.baselines.Run(gctx) })
	g.Go(func() error { return s.rates.Run(gctx) })
	g.Go(func() error { return s.catalog.Run(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-s.ingestor.Done():
			if err := s.ingestor.Err(); err != nil {
				return err
			}
			return nil
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.StatsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.metrics.RecordBufferDepth(s.ingestor.Stats().Buffer.Depth)
			}
		}
	})

	err = g.Wait()
	s.log.Info("screener stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels a running screener. History and queries stay readable.
func (s *Screener) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Screener) loadUniverse(ctx context.Context) error {
	backoff := s.cfg.ReconnectMin
	for {
		_, err := s.catalog.Load(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrConfiguration) {
			return err
		}
		s.metrics.RecordError("catalog_load")
		s.log.Warn("universe unavailable, retrying", applogger.Error(err), applogger.Duration("retry_in_ms", backoff))
		if !sleepCtx(ctx, addJitter(backoff)) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, s.cfg.ReconnectMax)
	}
}

// BaselineCoverage summarizes how many instruments can be volume-screened.
type BaselineCoverage struct {
	Available    int `json:"available"`
	Tracked      int `json:"tracked"`
	LookbackDays int `json:"lookback_days"`
}

// Status is a point-in-time health view of the pipeline.
type Status struct {
	Connected   bool             `json:"connected"`
	OpenGap     *models.Gap      `json:"open_gap,omitempty"`
	RecentGaps  []models.Gap     `json:"recent_gaps"`
	GapsTotal   int              `json:"gaps_total"`
	Ingest      IngestStats      `json:"ingest"`
	Aggregator  AggregatorStats  `json:"aggregator"`
	LastWindows []time.Time      `json:"last_windows"`
	Baselines   BaselineCoverage `json:"baselines"`
	Rate        RateQuote        `json:"rate"`
	Rule        models.RuleSpec  `json:"rule"`
	Instruments int              `json:"instruments"`
	UniverseAt  time.Time        `json:"universe_loaded_at"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
}

func (s *Screener) Status() Status {
	rule := s.engine.Rule()
	available, tracked := s.baselines.Coverage()
	agg := s.aggregator.Stats()

	st := Status{
		Connected:  s.ingestor.Connected(),
		RecentGaps: s.gaps.Recent(10),
		GapsTotal:  s.gaps.Total(),
		Ingest:     s.ingestor.Stats(),
		Aggregator: agg,
		Baselines: BaselineCoverage{
			Available:    available,
			Tracked:      tracked,
			LookbackDays: s.baselines.Lookback(),
		},
		Rate:        s.rates.Quote(s.engine.Currency(rule)),
		Rule:        models.SpecOf(rule),
		Instruments: len(s.catalog.Symbols()),
		UniverseAt:  s.catalog.LoadedAt(),
		LastWindows: []time.Time{},
	}
	if gap, ok := s.gaps.Current(); ok {
		st.OpenGap = &gap
	}
	if !agg.LastClosed.IsZero() {
		st.LastWindows = append(st.LastWindows, agg.LastClosed)
		if agg.WindowsClosed > 1 {
			st.LastWindows = append(st.LastWindows, agg.LastClosed.Add(-s.cfg.Window))
		}
	}
	s.mu.Lock()
	st.StartedAt = s.startedAt
	s.mu.Unlock()
	return st
}
