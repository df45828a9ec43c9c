package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trade-engine/internal/exchange"
	"github.com/atmx/trade-engine/internal/ledger"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snapshot(t *testing.T) ledger.Snapshot {
	t.Helper()
	b := ledger.NewBook(d("1"))
	require.NoError(t, b.ApplyBuy(ledger.Fill{
		OrderID: "o1", Pair: "ETHBTC", Side: exchange.Buy, Date: t0,
		Amount: d("10"), Price: d("0.05"), FeesMarket: d("0.0005"),
		Metadata: ledger.Metadata{SignalRule: "momentum"},
	}))
	return b.Snapshot()
}

func stores(t *testing.T) map[string]Store {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "accounts"))
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
		"cached": NewCachedStore(NewMemoryStore(), newFakeRedis(), time.Minute),
	}
}

func TestStores_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.LoadAccount(ctx, "paper")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, err, ledger.ErrSnapshotNotFound)

			snap := snapshot(t)
			require.NoError(t, st.SaveAccount(ctx, "paper", snap))
			require.NoError(t, st.SaveAccount(ctx, "live", ledger.Snapshot{Balance: d("2")}))

			got, err := st.LoadAccount(ctx, "paper")
			require.NoError(t, err)
			assert.True(t, got.Balance.Equal(snap.Balance))
			require.Contains(t, got.Positions, "ETHBTC")
			pos := got.Positions["ETHBTC"]
			assert.True(t, pos.AveragePrice.Equal(d("0.05")))
			assert.Equal(t, "momentum", pos.Metadata.SignalRule)

			ids, err := st.ListAccounts(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"live", "paper"}, ids)

			require.NoError(t, st.DeleteAccount(ctx, "paper"))
			require.NoError(t, st.DeleteAccount(ctx, "paper"))
			_, err = st.LoadAccount(ctx, "paper")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStore_SnapshotIsCopied(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	snap := snapshot(t)
	require.NoError(t, st.SaveAccount(ctx, "paper", snap))

	pos := snap.Positions["ETHBTC"]
	pos.OrderIDs[0] = "mutated"

	got, err := st.LoadAccount(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.Positions["ETHBTC"].OrderIDs[0])
}

func TestFileStore_AtomicWriteAndValidation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, st.SaveAccount(ctx, "paper", snapshot(t)))
	_, err = os.Stat(filepath.Join(dir, "paper.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temporary file renamed away")

	assert.ErrorIs(t, st.SaveAccount(ctx, "../escape", ledger.Snapshot{}), ErrInvalidID)
	_, err = st.LoadAccount(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
	_, err = st.LoadAccount(ctx, "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	rdb := newFakeRedis()
	st := NewCachedStore(primary, rdb, time.Minute)

	require.NoError(t, primary.SaveAccount(ctx, "paper", snapshot(t)))
	_, cached := rdb.data[accountKey("paper")]
	assert.False(t, cached)

	_, err := st.LoadAccount(ctx, "paper")
	require.NoError(t, err)
	_, cached = rdb.data[accountKey("paper")]
	assert.True(t, cached, "miss populates the cache")

	// served from cache even after the primary forgets it
	require.NoError(t, primary.DeleteAccount(ctx, "paper"))
	got, err := st.LoadAccount(ctx, "paper")
	require.NoError(t, err)
	assert.Contains(t, got.Positions, "ETHBTC")

	require.NoError(t, st.DeleteAccount(ctx, "paper"))
	_, err = st.LoadAccount(ctx, "paper")
	assert.ErrorIs(t, err, ErrNotFound)
}

// fakeRedis implements the commands CachedStore uses.
type fakeRedis struct {
	redis.Cmdable
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: make(map[string][]byte)} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = append([]byte(nil), value.([]byte)...)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}
