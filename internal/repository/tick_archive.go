package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/pkg/logger"
)

const insertChunk = 2000

// ClickHouseTicks archives raw ticks and serves them back for replay and
// indicator seeding. The one-minute table is fed by a materialized view.
type ClickHouseTicks struct {
	db      *sql.DB
	table   string
	candles string
	log     *logger.Logger
}

// NewClickHouseTicks uses <database>.<table> for ticks and <table>_1m for
// candle closes.
func NewClickHouseTicks(db *sql.DB, database, table string, log *logger.Logger) *ClickHouseTicks {
	if log == nil {
		log = logger.NewNop()
	}
	full := database + "." + table
	return &ClickHouseTicks{
		db:      db,
		table:   full,
		candles: full + "_1m",
		log:     log.Component("clickhouse_ticks"),
	}
}

// StoreBatch inserts ticks with multi-row VALUES statements. Invalid ticks are
// skipped.
func (s *ClickHouseTicks) StoreBatch(ctx context.Context, ticks []models.PriceTick) error {
	start := time.Now()
	stored := 0
	for lo := 0; lo < len(ticks); lo += insertChunk {
		hi := min(lo+insertChunk, len(ticks))
		q, args := s.insertQuery(ticks[lo:hi])
		if len(args) == 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert ticks: %w", err)
		}
		stored += len(args) / 6
	}
	s.log.Debug("stored batch", logger.Int("rows", stored), logger.Duration("took", time.Since(start)))
	return nil
}

func (s *ClickHouseTicks) insertQuery(ticks []models.PriceTick) (string, []any) {
	values := make([]string, 0, len(ticks))
	args := make([]any, 0, len(ticks)*6)
	for _, t := range ticks {
		if !t.Valid() {
			continue
		}
		var synthetic uint8
		if t.Synthetic {
			synthetic = 1
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, t.Timestamp.UTC(), t.Symbol, t.Price, t.Volume, t.Source, synthetic)
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, volume, source, synthetic) VALUES %s", s.table, strings.Join(values, ","))
	return q, args
}

// Query returns up to limit ticks in [from, to], oldest first. limit <= 0
// means no limit.
func (s *ClickHouseTicks) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.PriceTick, error) {
	q := fmt.Sprintf("SELECT symbol, ts, price, volume, source, synthetic FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC", s.table)
	args := []any{symbol, from.UTC(), to.UTC()}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.log.Error("query ticks", logger.String("symbol", symbol), logger.Error(err))
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []models.PriceTick
	for rows.Next() {
		var (
			t         models.PriceTick
			synthetic uint8
		)
		if err := rows.Scan(&t.Symbol, &t.Timestamp, &t.Price, &t.Volume, &t.Source, &synthetic); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		t.Synthetic = synthetic == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// Ticks implements PriceHistory.
func (s *ClickHouseTicks) Ticks(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceTick, error) {
	return s.Query(ctx, symbol, from, to, 0)
}

// LatestCloses returns up to n candle closes, oldest first. Coarser
// timeframes are folded from the one-minute rollup.
func (s *ClickHouseTicks) LatestCloses(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]float64, error) {
	if n <= 0 {
		return nil, nil
	}
	secs := int(tf.Duration().Seconds())
	if secs < 60 {
		secs = 60
	}
	q := fmt.Sprintf(`
		SELECT close FROM (
			SELECT toStartOfInterval(bucket, INTERVAL %d SECOND) AS b, argMax(c, bucket) AS close
			FROM (
				SELECT bucket, argMaxMerge(close) AS c
				FROM %s WHERE symbol = ?
				GROUP BY bucket
			)
			GROUP BY b ORDER BY b DESC LIMIT ?
		)`, secs, s.candles)
	rows, err := s.db.QueryContext(ctx, q, symbol, n)
	if err != nil {
		s.log.Error("latest closes", logger.String("symbol", symbol), logger.String("tf", string(tf)), logger.Error(err))
		return nil, fmt.Errorf("latest closes: %w", err)
	}
	defer rows.Close()

	closes := make([]float64, 0, n)
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan close: %w", err)
		}
		closes = append(closes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	reverse(closes)
	return closes, nil
}

func (s *ClickHouseTicks) Close() error { return nil }

func reverse[T any](xs []T) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}

var (
	_ domrepo.TickArchive  = (*ClickHouseTicks)(nil)
	_ domrepo.PriceHistory = (*ClickHouseTicks)(nil)
)
