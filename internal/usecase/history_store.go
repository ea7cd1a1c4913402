package usecase

import (
	"sort"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/pkg/util"
)

// HistoryStore retains the match sets of past windows. A (symbol, window)
// pair is stored at most once; appending it again replaces the record.
type HistoryStore struct {
	mu         sync.RWMutex
	windows    map[int64]map[string]models.MatchRecord
	order      []int64 // window starts (unix ms), ascending
	maxWindows int
}

// NewHistoryStore keeps at most maxWindows windows; 0 keeps everything.
func NewHistoryStore(maxWindows int) *HistoryStore {
	if maxWindows < 0 {
		maxWindows = 0
	}
	return &HistoryStore{
		windows:    make(map[int64]map[string]models.MatchRecord),
		maxWindows: maxWindows,
	}
}

// Append stores matches under windowStart. An empty set is a no-op.
func (h *HistoryStore) Append(matches []models.MatchRecord, windowStart time.Time) {
	if len(matches) == 0 {
		return
	}
	key := windowStart.UTC().UnixMilli()

	h.mu.Lock()
	defer h.mu.Unlock()
	bucket, ok := h.windows[key]
	if !ok {
		bucket = make(map[string]models.MatchRecord, len(matches))
		h.windows[key] = bucket
		i := sort.Search(len(h.order), func(i int) bool { return h.order[i] >= key })
		h.order = append(h.order, 0)
		copy(h.order[i+1:], h.order[i:])
		h.order[i] = key
	}
	for _, m := range matches {
		m.WindowStart = windowStart.UTC()
		bucket[m.Symbol] = m
	}
	h.pruneLocked()
}

func (h *HistoryStore) pruneLocked() {
	if h.maxWindows == 0 || len(h.order) <= h.maxWindows {
		return
	}
	drop := len(h.order) - h.maxWindows
	for _, k := range h.order[:drop] {
		delete(h.windows, k)
	}
	h.order = append(h.order[:0:0], h.order[drop:]...)
}

// Records returns every retained record, most recent window first and
// symbols ascending within a window.
func (h *HistoryStore) Records() []models.MatchRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []models.MatchRecord
	for i := len(h.order) - 1; i >= 0; i-- {
		out = append(out, sortedBucket(h.windows[h.order[i]])...)
	}
	return out
}

// Window returns the records of one window, symbols ascending.
func (h *HistoryStore) Window(windowStart time.Time) []models.MatchRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedBucket(h.windows[windowStart.UTC().UnixMilli()])
}

func sortedBucket(bucket map[string]models.MatchRecord) []models.MatchRecord {
	out := make([]models.MatchRecord, 0, len(bucket))
	for _, m := range bucket {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Latest returns up to n retained window starts, newest first.
func (h *HistoryStore) Latest(n int) []time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.order) {
		n = len(h.order)
	}
	out := make([]time.Time, 0, n)
	for i := len(h.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, util.FromUnixMilli(h.order[i]))
	}
	return out
}

// Len returns the number of retained records.
func (h *HistoryStore) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, b := range h.windows {
		n += len(b)
	}
	return n
}

// Windows returns the number of retained windows.
func (h *HistoryStore) Windows() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}
