// Package store defines the persistence interface for account snapshots.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), a JSON file per account, and in-memory (for testing).
package store

import (
	"context"

	"github.com/atmx/trade-engine/internal/ledger"
)

// ErrNotFound is returned, wrapped, when an account has no snapshot. It is
// the ledger's sentinel so accounts can treat a first start as empty.
var ErrNotFound = ledger.ErrSnapshotNotFound

// Store persists account snapshots. It satisfies ledger.Persister.
type Store interface {
	// SaveAccount replaces the snapshot of an account.
	SaveAccount(ctx context.Context, id string, snap ledger.Snapshot) error

	// LoadAccount returns the last saved snapshot.
	LoadAccount(ctx context.Context, id string) (ledger.Snapshot, error)

	// ListAccounts returns the ids of all saved accounts, sorted.
	ListAccounts(ctx context.Context) ([]string, error)

	// DeleteAccount removes a snapshot; deleting a missing one is not an error.
	DeleteAccount(ctx context.Context, id string) error
}

var _ ledger.Persister = Store(nil)
