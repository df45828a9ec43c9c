package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/atmx/trade-engine/internal/ledger"
)

// SQLite keeps trade results in an embedded database. Summary columns are
// queryable; the full result is kept as JSON.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLite opens (or creates) the journal at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Record(ctx context.Context, r ledger.TradeResult) error {
	if j.closed.Load() {
		return ErrClosed
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode trade %s: %w", r.ID, err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO trades
		(id, pair, amount, sell_price, profit, margin, dca_level, sell_date, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Pair, r.Amount.String(), r.SellPrice.String(), r.Profit.String(),
		r.Margin(), r.DCALevel, r.SellDate.UTC(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", r.ID, err)
	}
	return nil
}

func (j *SQLite) Recent(ctx context.Context, limit int) ([]ledger.TradeResult, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT result FROM trades ORDER BY sell_date DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.TradeResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r ledger.TradeResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode trade: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	return j.db.Close()
}
