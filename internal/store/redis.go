package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/trade-engine/internal/ledger"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and then refresh the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache) ---

func (s *CachedStore) SaveAccount(ctx context.Context, id string, snap ledger.Snapshot) error {
	if err := s.primary.SaveAccount(ctx, id, snap); err != nil {
		// The primary may or may not hold the new snapshot; drop the cache
		// so the next read goes to it.
		s.rdb.Del(ctx, accountKey(id))
		return err
	}
	s.cacheAccount(ctx, id, snap)
	return nil
}

func (s *CachedStore) DeleteAccount(ctx context.Context, id string) error {
	if err := s.primary.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LoadAccount(ctx context.Context, id string) (ledger.Snapshot, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		if snap, err := decode(id, data); err == nil {
			return snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.LoadAccount(ctx, id)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	s.cacheAccount(ctx, id, snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]string, error) {
	return s.primary.ListAccounts(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, id string, snap ledger.Snapshot) {
	if data, err := encode(snap); err == nil {
		s.rdb.Set(ctx, accountKey(id), data, s.ttl)
	}
}

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
