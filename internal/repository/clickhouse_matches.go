package repository

import (
	"context"
	"fmt"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	pkgch "FinScreen/pkg/clickhouse"
	applogger "FinScreen/pkg/logger"
)

// MatchSchema returns the DDL for the match archive table.
func MatchSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    window_start DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    rule LowCardinality(String),
    volume Decimal(38, 12),
    avg_volume Decimal(38, 12),
    multiple Decimal(38, 6),
    notional Decimal(38, 12),
    value Decimal(38, 6),
    currency LowCardinality(String),
    rate Decimal(38, 8),
    gap UInt8,
    inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
)
ENGINE = ReplacingMergeTree(inserted_at)
PARTITION BY toYYYYMMDD(window_start)
ORDER BY (window_start, symbol)`, database, table),
	}
}

// CHMatchArchive stores match records in ClickHouse. (window_start, symbol)
// is the sorting key so re-delivered windows collapse on merge.
type CHMatchArchive struct {
	ch    *pkgch.Client
	table string
	l     *applogger.Logger
}

func NewCHMatchArchive(ch *pkgch.Client, database, table string, l *applogger.Logger) *CHMatchArchive {
	return &CHMatchArchive{ch: ch, table: database + "." + table, l: l}
}

var _ drepo.MatchArchive = (*CHMatchArchive)(nil)

func (a *CHMatchArchive) Store(ctx context.Context, matches []models.MatchRecord) error {
	if len(matches) == 0 {
		return nil
	}
	start := time.Now()
	q := fmt.Sprintf("INSERT INTO %s (window_start, symbol, rule, volume, avg_volume, multiple, notional, value, currency, rate, gap)", a.table)

	rows := make([][]any, 0, len(matches))
	for _, m := range matches {
		var gap uint8
		if m.Gap {
			gap = 1
		}
		rows = append(rows, []any{
			m.WindowStart.UTC(),
			m.Symbol,
			string(m.Rule),
			m.Volume.String(),
			m.AvgVolume.String(),
			m.Multiple.StringFixed(6),
			m.Notional.String(),
			m.Value.StringFixed(6),
			m.Currency,
			m.Rate.String(),
			gap,
		})
	}
	if err := a.ch.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("archive matches: %w", err)
	}
	if a.l != nil {
		a.l.Debug("clickhouse store_matches ok",
			applogger.String("table", a.table),
			applogger.Int("rows", len(rows)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (a *CHMatchArchive) Close() error { return nil }

// NoopMatchArchive drops matches. Used when ClickHouse is disabled.
type NoopMatchArchive struct{}

func (NoopMatchArchive) Store(context.Context, []models.MatchRecord) error { return nil }
func (NoopMatchArchive) Close() error                                   { return nil }
