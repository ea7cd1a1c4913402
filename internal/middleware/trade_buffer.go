package middleware

import (
	"fmt"
	"sync"
	"sync/atomic"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
)

// OverflowPolicy decides which trade is sacrificed when the buffer is full.
type OverflowPolicy string

const (
	DropOldest OverflowPolicy = "drop_oldest"
	DropNewest OverflowPolicy = "drop_newest"
)

// TradeBuffer sits between the feed readers and the window aggregator.
// It validates trades and queues them in a bounded channel. Offer never
// blocks; on overflow one trade is dropped according to the policy and
// counted.
type TradeBuffer struct {
	metrics domrepo.Metrics
	policy  OverflowPolicy
	ch      chan models.TradeEvent

	mu     sync.RWMutex
	closed bool

	accepted atomic.Int64
	dropped  atomic.Int64
	invalid  atomic.Int64
}

type BufferOption func(*TradeBuffer)

// WithOverflowPolicy sets the overflow policy. Unknown values keep drop_oldest.
func WithOverflowPolicy(p OverflowPolicy) BufferOption {
	return func(b *TradeBuffer) {
		if p == DropOldest || p == DropNewest {
			b.policy = p
		}
	}
}

// NewTradeBuffer creates a buffer holding at most size trades.
func NewTradeBuffer(size int, metrics domrepo.Metrics, opts ...BufferOption) *TradeBuffer {
	if size <= 0 {
		size = 1024
	}
	b := &TradeBuffer{
		metrics: metrics,
		policy:  DropOldest,
		ch:      make(chan models.TradeEvent, size),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Out is the consumer side of the buffer. It is closed by Close.
func (b *TradeBuffer) Out() <-chan models.TradeEvent { return b.ch }

// Offer validates and enqueues t. It reports whether t was queued.
func (b *TradeBuffer) Offer(t models.TradeEvent) bool {
	if err := validateTrade(t); err != nil {
		b.invalid.Add(1)
		b.metrics.RecordDropped("invalid")
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	for {
		select {
		case b.ch <- t:
			b.accepted.Add(1)
			b.metrics.RecordTradeIngested(t.Symbol)
			b.metrics.RecordBufferDepth(len(b.ch))
			return true
		default:
		}

		if b.policy == DropNewest {
			b.dropped.Add(1)
			b.metrics.RecordDropped("overflow")
			return false
		}

		// evict the head and retry; another producer may win the freed slot
		select {
		case <-b.ch:
			b.dropped.Add(1)
			b.metrics.RecordDropped("overflow")
		default:
		}
	}
}

// Close stops accepting trades and closes Out. Safe to call more than once.
func (b *TradeBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Len returns the number of queued trades.
func (b *TradeBuffer) Len() int { return len(b.ch) }

// BufferStats is a point-in-time view of the buffer counters.
type BufferStats struct {
	Accepted int64  `json:"accepted"`
	Dropped  int64  `json:"dropped"`
	Invalid  int64  `json:"invalid"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Policy   string `json:"policy"`
}

func (b *TradeBuffer) Stats() BufferStats {
	return BufferStats{
		Accepted: b.accepted.Load(),
		Dropped:  b.dropped.Load(),
		Invalid:  b.invalid.Load(),
		Depth:    len(b.ch),
		Capacity: cap(b.ch),
		Policy:   string(b.policy),
	}
}

func validateTrade(t models.TradeEvent) error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.EventTime.IsZero() {
		return fmt.Errorf("event time missing")
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("price must be positive")
	}
	if t.Quantity.IsNegative() {
		return fmt.Errorf("negative quantity")
	}
	return nil
}
