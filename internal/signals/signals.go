// Package signals defines the market signal snapshot consumed by the rule
// evaluator and an in-memory Source fed by external signal receivers.
package signals

import (
	"sort"
	"sync"
)

// Signal is one named feed's view of one pair. Every measurement is
// optional; a nil field means the feed did not report it.
type Signal struct {
	Name         string   `json:"name"`
	Pair         string   `json:"pair"`
	Volume       *float64 `json:"volume,omitempty"`
	VolumeChange *float64 `json:"volume_change,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	PriceChange  *float64 `json:"price_change,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	RatingChange *float64 `json:"rating_change,omitempty"`
	Volatility   *float64 `json:"volatility,omitempty"`
}

// Source provides signal snapshots by pair and the aggregate global rating.
type Source interface {
	SignalsByPair(pair string) map[string]Signal
	GlobalRating() *float64
}

// MemorySource keeps the latest signal per (name, pair). Receivers call
// Update; readers get copies.
type MemorySource struct {
	mu            sync.RWMutex
	byPair        map[string]map[string]Signal
	globalSignals []string
}

// NewMemorySource creates a source whose global rating averages the given
// signal names. With no names every signal contributes.
func NewMemorySource(globalSignals ...string) *MemorySource {
	return &MemorySource{
		byPair:        make(map[string]map[string]Signal),
		globalSignals: globalSignals,
	}
}

// Update stores s, replacing the previous value for the same name and pair.
func (m *MemorySource) Update(s Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	named, ok := m.byPair[s.Pair]
	if !ok {
		named = make(map[string]Signal)
		m.byPair[s.Pair] = named
	}
	named[s.Name] = s
}

// Remove drops the signal with the given name for pair.
func (m *MemorySource) Remove(name, pair string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byPair[pair], name)
}

func (m *MemorySource) SignalsByPair(pair string) map[string]Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	named := m.byPair[pair]
	out := make(map[string]Signal, len(named))
	for k, v := range named {
		out[k] = v
	}
	return out
}

// Pairs returns every pair with at least one signal, sorted.
func (m *MemorySource) Pairs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pairs := make([]string, 0, len(m.byPair))
	for p := range m.byPair {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	return pairs
}

// GlobalRating averages, per configured signal, the mean rating across all
// pairs, then averages those means. Nil when no rating is known.
func (m *MemorySource) GlobalRating() *float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, named := range m.byPair {
		for name, s := range named {
			if s.Rating == nil || !m.isGlobal(name) {
				continue
			}
			sums[name] += *s.Rating
			counts[name]++
		}
	}
	if len(sums) == 0 {
		return nil
	}

	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	var total float64
	for _, name := range names {
		total += sums[name] / float64(counts[name])
	}
	rating := total / float64(len(names))
	return &rating
}

func (m *MemorySource) isGlobal(name string) bool {
	if len(m.globalSignals) == 0 {
		return true
	}
	for _, g := range m.globalSignals {
		if g == name {
			return true
		}
	}
	return false
}
