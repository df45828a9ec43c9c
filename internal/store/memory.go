package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/trade-engine/internal/ledger"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

// SaveAccount stores the encoded snapshot so later mutation of snap by the
// caller cannot leak into the store.
func (s *MemoryStore) SaveAccount(_ context.Context, id string, snap ledger.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[id] = data
	return nil
}

func (s *MemoryStore) LoadAccount(_ context.Context, id string) (ledger.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snaps[id]
	s.mu.RUnlock()
	if !ok {
		return ledger.Snapshot{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return decode(id, data)
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
	return nil
}

func encode(snap ledger.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func decode(id string, data []byte) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("decode account %s: %w", id, err)
	}
	return snap, nil
}
