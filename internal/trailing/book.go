package trailing

import (
	"sort"
	"sync"
)

// Book holds at most one trailing entry per pair, either a buy carrying a
// B request or a sell carrying an S request. Starting one side cancels
// the other.
type Book[B, S any] struct {
	mu    sync.Mutex
	buys  map[string]*Info[B]
	sells map[string]*Info[S]
}

// NewBook creates an empty book.
func NewBook[B, S any]() *Book[B, S] {
	return &Book[B, S]{
		buys:  make(map[string]*Info[B]),
		sells: make(map[string]*Info[S]),
	}
}

// StartBuy replaces any entry for pair with a buy trail.
func (b *Book[B, S]) StartBuy(pair string, info *Info[B]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sells, pair)
	b.buys[pair] = info
}

// StartSell replaces any entry for pair with a sell trail.
func (b *Book[B, S]) StartSell(pair string, info *Info[S]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buys, pair)
	b.sells[pair] = info
}

// CancelBuy drops the buy trail for pair, reporting whether one existed.
func (b *Book[B, S]) CancelBuy(pair string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.buys[pair]
	delete(b.buys, pair)
	return ok
}

// CancelSell drops the sell trail for pair, reporting whether one existed.
func (b *Book[B, S]) CancelSell(pair string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sells[pair]
	delete(b.sells, pair)
	return ok
}

// IsTrailingBuy reports whether pair has an active buy trail.
func (b *Book[B, S]) IsTrailingBuy(pair string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.buys[pair]
	return ok
}

// IsTrailingSell reports whether pair has an active sell trail.
func (b *Book[B, S]) IsTrailingSell(pair string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sells[pair]
	return ok
}

// AdvanceBuy feeds the current buy margin of pair. Resolved entries are
// removed; the returned copy reflects the entry after the tick.
func (b *Book[B, S]) AdvanceBuy(pair string, margin float64, enabled bool) (Info[B], Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return advance(b.buys, pair, margin, enabled)
}

// AdvanceSell feeds the current position margin of pair.
func (b *Book[B, S]) AdvanceSell(pair string, margin float64, enabled bool) (Info[S], Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return advance(b.sells, pair, margin, enabled)
}

func advance[R any](m map[string]*Info[R], pair string, margin float64, enabled bool) (Info[R], Outcome) {
	info, ok := m[pair]
	if !ok {
		return Info[R]{}, None
	}
	out := info.Advance(margin, enabled)
	if out != Trailing {
		delete(m, pair)
	}
	return *info, out
}

// BuyPairs returns the pairs with an active buy trail, sorted.
func (b *Book[B, S]) BuyPairs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return keys(b.buys)
}

// SellPairs returns the pairs with an active sell trail, sorted.
func (b *Book[B, S]) SellPairs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return keys(b.sells)
}

// Snapshot copies every active entry.
func (b *Book[B, S]) Snapshot() (map[string]Info[B], map[string]Info[S]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buys := make(map[string]Info[B], len(b.buys))
	for k, v := range b.buys {
		buys[k] = *v
	}
	sells := make(map[string]Info[S], len(b.sells))
	for k, v := range b.sells {
		sells[k] = *v
	}
	return buys, sells
}

func keys[R any](m map[string]*Info[R]) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
