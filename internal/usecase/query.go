package usecase

import (
	"fmt"
	"strings"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/pkg/util"
)

const (
	CollectionCurrent = "current"
	CollectionHistory = "history"

	DefaultPageSize = 20
)

// Page is one page of match records.
type Page struct {
	Collection  string               `json:"collection"`
	Items       []models.MatchRecord `json:"items"`
	Total       int                  `json:"total"`
	Page        int                  `json:"page"`
	PageSize    int                  `json:"page_size"`
	Pages       int                  `json:"pages"`
	WindowStart time.Time            `json:"window_start,omitempty"`
	Gap         bool                 `json:"gap,omitempty"`
}

// CurrentSource returns the latest screened match set.
type CurrentSource interface {
	Current() CurrentSet
}

// QueryFacade serves searchable, paginated views over the current match set
// and the history.
type QueryFacade struct {
	current     CurrentSource
	history     *HistoryStore
	maxPageSize int
}

func NewQueryFacade(current CurrentSource, history *HistoryStore, maxPageSize int) *QueryFacade {
	if maxPageSize <= 0 {
		maxPageSize = 200
	}
	return &QueryFacade{current: current, history: history, maxPageSize: maxPageSize}
}

// Query filters collection by a case-insensitive symbol substring and returns
// the requested 1-indexed page. Out-of-range pages are empty, not an error.
func (q *QueryFacade) Query(collection, search string, page, pageSize int) (Page, error) {
	var (
		rows []models.MatchRecord
		out  Page
	)
	switch strings.ToLower(strings.TrimSpace(collection)) {
	case CollectionCurrent:
		cs := q.current.Current()
		rows = cs.Matches
		out.WindowStart = cs.WindowStart
		out.Gap = cs.Gap
	case CollectionHistory:
		rows = q.history.Records()
	default:
		return Page{}, fmt.Errorf("%w: unknown collection %q", models.ErrConfiguration, collection)
	}
	out.Collection = strings.ToLower(strings.TrimSpace(collection))

	if search = strings.TrimSpace(search); search != "" {
		filtered := rows[:0:0]
		for _, r := range rows {
			if util.ContainsFold(r.Symbol, search) {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > q.maxPageSize:
		pageSize = q.maxPageSize
	}

	out.Total = len(rows)
	out.Page = page
	out.PageSize = pageSize
	out.Pages = (out.Total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	if start >= len(rows) {
		out.Items = []models.MatchRecord{}
		return out, nil
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	out.Items = append([]models.MatchRecord(nil), rows[start:end]...)
	return out, nil
}
