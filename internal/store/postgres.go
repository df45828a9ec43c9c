package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/trade-engine/internal/ledger"
)

// Schema creates the snapshot table. The balance and position count are
// duplicated out of the JSON document for ad-hoc queries.
const Schema = `
CREATE TABLE IF NOT EXISTS account_snapshots (
	id         TEXT PRIMARY KEY,
	balance    NUMERIC NOT NULL,
	positions  INTEGER NOT NULL,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The balance is stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the snapshot table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) SaveAccount(ctx context.Context, id string, snap ledger.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", id, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO account_snapshots (id, balance, positions, snapshot, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $4::JSONB, now())
		 ON CONFLICT (id) DO UPDATE
		 SET balance = EXCLUDED.balance,
		     positions = EXCLUDED.positions,
		     snapshot = EXCLUDED.snapshot,
		     updated_at = EXCLUDED.updated_at`,
		id, snap.Balance.String(), len(snap.Positions), string(data),
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) LoadAccount(ctx context.Context, id string) (ledger.Snapshot, error) {
	var data string
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot::TEXT FROM account_snapshots WHERE id = $1`, id).
		Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Snapshot{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load account %s: %w", id, err)
	}
	return decode(id, []byte(data))
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM account_snapshots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM account_snapshots WHERE id = $1`, id)
	return err
}
