package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/util"

	"github.com/shopspring/decimal"
)

// GapOverlapper reports feed outages intersecting a window.
type GapOverlapper interface {
	Overlaps(start, end time.Time) bool
}

type AggregatorConfig struct {
	Window       time.Duration
	ResultBuffer int
}

type accumulator struct {
	volume   decimal.Decimal
	notional decimal.Decimal
	trades   int
}

func (a *accumulator) add(t models.TradeEvent) {
	a.volume = a.volume.Add(t.Quantity)
	a.notional = a.notional.Add(t.Notional())
	a.trades++
}

// WindowAggregator folds the trade stream into per-instrument totals for
// fixed UTC-aligned windows and emits one WindowResult per closed window.
// All accumulator state is owned by the Run goroutine.
type WindowAggregator struct {
	cfg     AggregatorConfig
	gaps    GapOverlapper
	metrics drepo.Metrics
	log     *applogger.Logger
	now     func() time.Time
	out     chan models.WindowResult

	universeMu  sync.Mutex
	universe    []string
	universeSig chan struct{}

	// loop-owned
	current  time.Time
	cur      map[string]*accumulator
	next     map[string]*accumulator
	tracked  map[string]struct{}
	removing map[string]struct{}

	late       atomic.Int64
	future     atomic.Int64
	untracked  atomic.Int64
	closed     atomic.Int64
	lastClosed atomic.Int64 // unix ms of the last closed window start
}

func NewWindowAggregator(cfg AggregatorConfig, gaps GapOverlapper, metrics drepo.Metrics, log *applogger.Logger) *WindowAggregator {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = 4
	}
	return &WindowAggregator{
		cfg:         cfg,
		gaps:        gaps,
		metrics:     metrics,
		log:         log.With(applogger.Component("aggregator")),
		now:         time.Now,
		out:         make(chan models.WindowResult, cfg.ResultBuffer),
		universeSig: make(chan struct{}, 1),
		cur:         make(map[string]*accumulator),
		next:        make(map[string]*accumulator),
		tracked:     make(map[string]struct{}),
		removing:    make(map[string]struct{}),
	}
}

// Results delivers closed windows in order. It is closed when Run returns.
func (a *WindowAggregator) Results() <-chan models.WindowResult { return a.out }

// SetUniverse replaces the tracked instruments. Additions start accumulating
// immediately; removals still get a snapshot for the window in progress.
func (a *WindowAggregator) SetUniverse(symbols []string) {
	a.universeMu.Lock()
	a.universe = util.NormalizeSymbols(symbols)
	a.universeMu.Unlock()
	select {
	case a.universeSig <- struct{}{}:
	default:
	}
}

// Run consumes events until ctx is cancelled. The window in progress at
// that point is discarded.
func (a *WindowAggregator) Run(ctx context.Context, events <-chan models.TradeEvent, instruments []string) error {
	defer close(a.out)

	a.applyUniverse(util.NormalizeSymbols(instruments))
	now := a.now()
	a.current = util.WindowStart(now, a.cfg.Window)
	timer := time.NewTimer(a.current.Add(a.cfg.Window).Sub(now))
	defer timer.Stop()

	a.log.Info("aggregating",
		applogger.Time("first_window", a.current),
		applogger.Duration("window_ms", a.cfg.Window),
		applogger.Int("instruments", len(a.tracked)),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.accept(ev)

		case <-a.universeSig:
			a.universeMu.Lock()
			list := a.universe
			a.universeMu.Unlock()
			a.applyUniverse(list)

		case <-timer.C:
			wait, err := a.closeDue(ctx)
			if err != nil {
				return err
			}
			timer.Reset(wait)
		}
	}
}

// closeDue closes every window that has ended and returns how long until the
// current one ends. The clock is read again after each send, since a slow
// consumer can hold the loop past further boundaries.
func (a *WindowAggregator) closeDue(ctx context.Context) (time.Duration, error) {
	for {
		now := a.now()
		end := a.current.Add(a.cfg.Window)
		if now.Before(end) {
			return end.Sub(now), nil
		}
		res := a.closeWindow()
		select {
		case a.out <- res:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (a *WindowAggregator) accept(ev models.TradeEvent) {
	if _, ok := a.tracked[ev.Symbol]; !ok {
		a.untracked.Add(1)
		a.metrics.RecordDropped("untracked")
		return
	}

	ws := util.WindowStart(ev.EventTime, a.cfg.Window)
	switch {
	case ws.Equal(a.current):
		accumulatorFor(a.cur, ev.Symbol).add(ev)
	case ws.Equal(a.current.Add(a.cfg.Window)):
		accumulatorFor(a.next, ev.Symbol).add(ev)
	case ws.Before(a.current):
		a.late.Add(1)
		a.metrics.RecordDropped("late")
	default:
		a.future.Add(1)
		a.metrics.RecordDropped("future")
	}
}

func accumulatorFor(m map[string]*accumulator, symbol string) *accumulator {
	acc, ok := m[symbol]
	if !ok {
		acc = &accumulator{}
		m[symbol] = acc
	}
	return acc
}

func (a *WindowAggregator) applyUniverse(list []string) {
	want := make(map[string]struct{}, len(list))
	for _, s := range list {
		want[s] = struct{}{}
		a.tracked[s] = struct{}{}
		delete(a.removing, s)
	}
	for s := range a.tracked {
		if _, ok := want[s]; !ok {
			a.removing[s] = struct{}{}
		}
	}
}

// closeWindow emits the current window and advances to the next one.
func (a *WindowAggregator) closeWindow() models.WindowResult {
	start := a.current
	end := start.Add(a.cfg.Window)

	symbols := make([]string, 0, len(a.tracked))
	for s := range a.tracked {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	snaps := make([]models.WindowSnapshot, 0, len(symbols))
	for _, s := range symbols {
		snap := models.WindowSnapshot{Symbol: s, WindowStart: start, WindowEnd: end}
		if acc, ok := a.cur[s]; ok {
			snap.Volume = acc.volume
			snap.Notional = acc.notional
			snap.Trades = acc.trades
		}
		snaps = append(snaps, snap)
	}

	gap := a.gaps != nil && a.gaps.Overlaps(start, end)
	res := models.WindowResult{WindowStart: start, WindowEnd: end, Snapshots: snaps, Gap: gap}

	for s := range a.removing {
		delete(a.tracked, s)
		delete(a.next, s)
	}
	a.removing = make(map[string]struct{})
	a.cur, a.next = a.next, make(map[string]*accumulator)
	a.current = end

	a.closed.Add(1)
	a.lastClosed.Store(start.UnixMilli())
	a.metrics.RecordWindowClosed(len(snaps), gap)
	if gap {
		a.log.Warn("window overlapped a feed gap", applogger.Time("window_start", start))
	}
	return res
}

// AggregatorStats is a point-in-time view of aggregation counters.
type AggregatorStats struct {
	WindowsClosed int64     `json:"windows_closed"`
	LastClosed    time.Time `json:"last_closed,omitempty"`
	Late          int64     `json:"late"`
	Future        int64     `json:"future"`
	Untracked     int64     `json:"untracked"`
}

func (a *WindowAggregator) Stats() AggregatorStats {
	st := AggregatorStats{
		WindowsClosed: a.closed.Load(),
		Late:          a.late.Load(),
		Future:        a.future.Load(),
		Untracked:     a.untracked.Load(),
	}
	if ms := a.lastClosed.Load(); ms != 0 {
		st.LastClosed = util.FromUnixMilli(ms)
	}
	return st
}
