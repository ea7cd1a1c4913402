package usecase

import (
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
)

const defaultGapRetention = 256

// GapTracker records feed outages. The ingestor opens and closes gaps; the
// aggregator asks whether a closing window overlapped one.
type GapTracker struct {
	mu      sync.RWMutex
	open    *models.Gap
	closed  []models.Gap // oldest first
	retain  int
	total   int
	metrics drepo.Metrics
	now     func() time.Time
}

func NewGapTracker(metrics drepo.Metrics) *GapTracker {
	return &GapTracker{
		retain:  defaultGapRetention,
		metrics: metrics,
		now:     time.Now,
	}
}

// Open starts a gap unless one is already open. It reports whether a new gap began.
func (g *GapTracker) Open(reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open != nil {
		return false
	}
	g.open = &models.Gap{Start: g.now().UTC(), Reason: reason}
	g.total++
	return true
}

// Close ends the open gap, if any, and returns it.
func (g *GapTracker) Close() (models.Gap, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open == nil {
		return models.Gap{}, false
	}
	gap := *g.open
	gap.End = g.now().UTC()
	g.open = nil

	g.closed = append(g.closed, gap)
	if len(g.closed) > g.retain {
		g.closed = append(g.closed[:0:0], g.closed[len(g.closed)-g.retain:]...)
	}
	g.metrics.RecordGap(gap.End.Sub(gap.Start).Seconds())
	return gap, true
}

// Overlaps reports whether any recorded outage intersects [start, end).
func (g *GapTracker) Overlaps(start, end time.Time) bool {
	now := g.now()
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.open != nil && g.open.Overlaps(start, end, now) {
		return true
	}
	for i := len(g.closed) - 1; i >= 0; i-- {
		gap := g.closed[i]
		if gap.Overlaps(start, end, now) {
			return true
		}
		if gap.End.Before(start) {
			break
		}
	}
	return false
}

// Current returns the open gap, if the feed is down.
func (g *GapTracker) Current() (models.Gap, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.open == nil {
		return models.Gap{}, false
	}
	return *g.open, true
}

// Recent returns up to n closed gaps, newest first.
func (g *GapTracker) Recent(n int) []models.Gap {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n <= 0 || n > len(g.closed) {
		n = len(g.closed)
	}
	out := make([]models.Gap, 0, n)
	for i := len(g.closed) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, g.closed[i])
	}
	return out
}

// Total is the number of gaps ever opened.
func (g *GapTracker) Total() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.total
}
