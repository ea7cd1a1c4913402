package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	pkgch "FinScreen/pkg/clickhouse"
	applogger "FinScreen/pkg/logger"

	"github.com/shopspring/decimal"
)

// CHBarsProvider reads historical candles from a ClickHouse table with the
// columns (bucket DateTime, symbol String, vol Decimal/Float).
type CHBarsProvider struct {
	db    *sql.DB
	table string
	tf    drepo.Timeframe
	l     *applogger.Logger
}

func NewCHBarsProvider(ch *pkgch.Client, table string, tf drepo.Timeframe, l *applogger.Logger) *CHBarsProvider {
	return &CHBarsProvider{db: ch.DB(), table: table, tf: tf, l: l}
}

var _ drepo.BarsProvider = (*CHBarsProvider)(nil)

// FetchBars returns the bars whose bucket falls in [start, end), oldest first.
func (s *CHBarsProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	began := time.Now()
	const qtpl = `
        SELECT bucket, toString(vol)
        FROM %s
        WHERE symbol = ? AND bucket >= ? AND bucket < ?
        ORDER BY bucket ASC
    `
	q := fmt.Sprintf(qtpl, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, start.UTC(), end.UTC())
	if err != nil {
		s.logError("query", symbol, err)
		return nil, fmt.Errorf("%w: get bars %s: %v", models.ErrTransport, symbol, err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, 256)
	for rows.Next() {
		var (
			bucket time.Time
			vol    string
		)
		if err := rows.Scan(&bucket, &vol); err != nil {
			s.logError("scan", symbol, err)
			return nil, fmt.Errorf("%w: scan bar: %v", models.ErrParse, err)
		}
		v, err := decimal.NewFromString(vol)
		if err != nil {
			return nil, fmt.Errorf("%w: bar volume %q: %v", models.ErrParse, vol, err)
		}
		out = append(out, models.Bar{Volume: v, CloseTime: bucket.UTC().Add(s.tf.Duration())})
	}
	if err := rows.Err(); err != nil {
		s.logError("rows", symbol, err)
		return nil, fmt.Errorf("%w: rows: %v", models.ErrTransport, err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse get_bars ok",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("tf", string(s.tf)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(began)),
		)
	}
	return out, nil
}

func (s *CHBarsProvider) logError(stage, symbol string, err error) {
	if s.l == nil {
		return
	}
	s.l.Error("clickhouse get_bars "+stage+" error",
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.String("tf", string(s.tf)),
		applogger.Error(err),
	)
}
