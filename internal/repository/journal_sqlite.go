package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS fills (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	client_order_id TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             INTEGER NOT NULL,
	price           TEXT NOT NULL,
	filled_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol, id);
CREATE TABLE IF NOT EXISTS chases (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	filled_qty  INTEGER NOT NULL,
	avg_price   TEXT NOT NULL,
	last_price  TEXT NOT NULL,
	aborted     INTEGER NOT NULL,
	exhausted   INTEGER NOT NULL,
	error       TEXT,
	created_at  TEXT NOT NULL
);
`

// SQLiteJournal is the audit trail of fills and chase outcomes. Prices are
// stored as decimal strings so nothing is lost to float rounding.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal opens or creates the journal at path; ":memory:" is
// accepted for tests.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
		dsn = path + "?_journal=WAL&_sync=NORMAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &SQLiteJournal{db: db, now: time.Now}, nil
}

func (j *SQLiteJournal) RecordFill(ctx context.Context, f models.Fill) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (client_order_id, symbol, side, qty, price, filled_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ClientOrderID, strings.ToUpper(f.Symbol), string(f.Side), f.Qty, f.Price.String(),
		f.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record fill: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) RecordChase(ctx context.Context, symbol string, side models.OrderSide, res models.ChaseResult) error {
	var errText sql.NullString
	if res.Err != nil {
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO chases (symbol, side, attempts, filled_qty, avg_price, last_price, aborted, exhausted, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(symbol), string(side), res.AttemptsUsed, res.FilledQty,
		res.AvgPrice.String(), res.FinalPriceAttempted.String(),
		res.AbortedDueToDeviation, res.Exhausted, errText,
		j.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record chase: %w", err)
	}
	return nil
}

// RecentFills returns the last limit fills, newest first. An empty symbol
// matches every symbol.
func (j *SQLiteJournal) RecentFills(ctx context.Context, symbol string, limit int) ([]models.Fill, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT client_order_id, symbol, side, qty, price, filled_at FROM fills`
	args := []any{}
	if symbol != "" {
		q += ` WHERE symbol = ?`
		args = append(args, strings.ToUpper(symbol))
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []models.Fill
	for rows.Next() {
		var (
			f            models.Fill
			side, px, at string
		)
		if err := rows.Scan(&f.ClientOrderID, &f.Symbol, &side, &f.Qty, &px, &at); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Side = models.OrderSide(side)
		if f.Price, err = decimal.NewFromString(px); err != nil {
			return nil, fmt.Errorf("fill price %q: %w", px, err)
		}
		if f.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("fill time %q: %w", at, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Ping(ctx context.Context) error { return j.db.PingContext(ctx) }

func (j *SQLiteJournal) Close() error { return j.db.Close() }

var _ domrepo.FillJournal = (*SQLiteJournal)(nil)
