package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	mid "FinScreen/internal/middleware"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/util"
)

type IngestorConfig struct {
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// TradeIngestor keeps a feed session alive and forwards decoded trades into
// the trade buffer. Sessions are re-established with exponential backoff and
// every outage is recorded in the gap tracker.
type TradeIngestor struct {
	feed    drepo.FeedProvider
	buf     *mid.TradeBuffer
	gaps    *GapTracker
	metrics drepo.Metrics
	log     *applogger.Logger
	cfg     IngestorConfig

	mu          sync.Mutex
	instruments []string
	resub       chan struct{}
	err         error
	done        chan struct{}

	started     atomic.Bool
	connected   atomic.Bool
	sessions    atomic.Int64
	parseErrors atomic.Int64
}

func NewTradeIngestor(
	feed drepo.FeedProvider,
	buf *mid.TradeBuffer,
	gaps *GapTracker,
	metrics drepo.Metrics,
	log *applogger.Logger,
	cfg IngestorConfig,
) *TradeIngestor {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &TradeIngestor{
		feed:    feed,
		buf:     buf,
		gaps:    gaps,
		metrics: metrics,
		log:     log.With(applogger.Component("ingestor")),
		cfg:     cfg,
		resub:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the session loop and returns the trade stream. The stream is
// closed when ctx is cancelled or the ingestor hits an unrecoverable error,
// which is then available from Err.
func (i *TradeIngestor) Start(ctx context.Context, instruments []string) (<-chan models.TradeEvent, error) {
	list := util.NormalizeSymbols(instruments)
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: empty instrument universe", models.ErrUnrecoverable)
	}
	if !i.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("ingestor already started")
	}

	i.mu.Lock()
	i.instruments = list
	i.mu.Unlock()

	go i.run(ctx)
	return i.buf.Out(), nil
}

// SetInstruments replaces the subscription. The current session is closed and
// a new one opens with the new list.
func (i *TradeIngestor) SetInstruments(instruments []string) {
	list := util.NormalizeSymbols(instruments)
	i.mu.Lock()
	i.instruments = list
	i.mu.Unlock()

	select {
	case i.resub <- struct{}{}:
	default:
	}
}

// Instruments returns the current subscription list.
func (i *TradeIngestor) Instruments() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.instruments...)
}

// Err returns the terminal error, if the ingestor stopped on its own.
func (i *TradeIngestor) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// Done is closed once the session loop has exited and the stream is closed.
func (i *TradeIngestor) Done() <-chan struct{} { return i.done }

func (i *TradeIngestor) Connected() bool { return i.connected.Load() }

// IngestStats is a point-in-time view of ingestion health.
type IngestStats struct {
	Connected   bool            `json:"connected"`
	Sessions    int64           `json:"sessions"`
	ParseErrors int64           `json:"parse_errors"`
	Buffer      mid.BufferStats `json:"buffer"`
}

func (i *TradeIngestor) Stats() IngestStats {
	return IngestStats{
		Connected:   i.connected.Load(),
		Sessions:    i.sessions.Load(),
		ParseErrors: i.parseErrors.Load(),
		Buffer:      i.buf.Stats(),
	}
}

func (i *TradeIngestor) fail(err error) {
	i.mu.Lock()
	i.err = err
	i.mu.Unlock()
	i.log.Error("ingestor stopped", applogger.Error(err))
}

type sessionEnd int

const (
	endStopped sessionEnd = iota
	endResubscribe
	endTransport
)

func (i *TradeIngestor) run(ctx context.Context) {
	defer close(i.done)
	defer i.buf.Close()
	defer func() { _ = i.feed.Unsubscribe() }()

	backoff := i.cfg.ReconnectMin
	for ctx.Err() == nil {
		list := i.Instruments()
		if len(list) == 0 {
			i.fail(fmt.Errorf("%w: empty instrument universe", models.ErrUnrecoverable))
			return
		}

		began := time.Now()
		msgs, err := i.feed.Subscribe(ctx, list)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, models.ErrConfiguration) {
				i.fail(fmt.Errorf("%w: %v", models.ErrUnrecoverable, err))
				return
			}
			i.gaps.Open("connect failed")
			i.metrics.RecordError("feed_connect")
			i.metrics.RecordReconnect()
			i.log.Warn("feed connect failed",
				applogger.Error(err),
				applogger.Duration("retry_in_ms", backoff),
			)
			if !sleepCtx(ctx, addJitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, i.cfg.ReconnectMax)
			continue
		}

		i.connected.Store(true)
		i.sessions.Add(1)
		if gap, ok := i.gaps.Close(); ok {
			i.log.Info("feed recovered",
				applogger.Time("gap_start", gap.Start),
				applogger.Duration("gap_ms", gap.End.Sub(gap.Start)),
			)
		}

		end := i.consume(ctx, msgs)
		i.connected.Store(false)
		_ = i.feed.Unsubscribe()

		switch end {
		case endStopped:
			return
		case endResubscribe:
			i.gaps.Open("resubscribe")
			backoff = i.cfg.ReconnectMin
			continue
		}

		i.gaps.Open("disconnected")
		i.metrics.RecordReconnect()
		if time.Since(began) > i.cfg.ReconnectMax {
			backoff = i.cfg.ReconnectMin
		}
		if !sleepCtx(ctx, addJitter(backoff)) {
			return
		}
		backoff = nextBackoff(backoff, i.cfg.ReconnectMax)
	}
}

func (i *TradeIngestor) consume(ctx context.Context, msgs <-chan models.FeedMessage) sessionEnd {
	for {
		select {
		case <-ctx.Done():
			return endStopped
		case <-i.resub:
			i.log.Info("resubscribing", applogger.Int("instruments", len(i.Instruments())))
			return endResubscribe
		case m, ok := <-msgs:
			if !ok {
				return endTransport
			}
			if m.Err != nil {
				if errors.Is(m.Err, models.ErrParse) {
					i.parseErrors.Add(1)
					i.metrics.RecordDropped("parse")
					i.log.Debug("dropped frame", applogger.Error(m.Err))
					continue
				}
				i.metrics.RecordError("feed_transport")
				i.log.Warn("feed session ended", applogger.Error(m.Err))
				return endTransport
			}
			i.buf.Offer(m.Trade)
		}
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	cur *= 2
	if cur > limit {
		cur = limit
	}
	return cur
}

// addJitter spreads d by +/-20%.
func addJitter(d time.Duration) time.Duration {
	j := time.Duration((rand.Float64() - 0.5) * 0.4 * float64(d))
	return d + j
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
