// Package clock provides the time source and the time-dilation factor shared
// by the scheduler, the policy resolver and the trading service.
//
// Every wall-clock threshold is divided by Speed before it is compared with
// "now minus recorded timestamp". Nothing counts ticks, so replaying at N×
// keeps ages and timeouts consistent no matter how fast the scheduler runs.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Real clocks carry a monotonic reading.
type Clock interface {
	Now() time.Time
}

// Real is the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Manual is a settable clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Speed is the time-dilation factor. 1 is real time; 10 replays ten times
// faster. Values <= 0 are treated as 1.
type Speed float64

// Factor returns the effective dilation factor.
func (s Speed) Factor() float64 {
	if s <= 0 {
		return 1
	}
	return float64(s)
}

// Duration divides d by the dilation factor.
func (s Speed) Duration(d time.Duration) time.Duration {
	return time.Duration(float64(d) / s.Factor())
}

// Seconds converts a wall-clock threshold in seconds to a dilated duration.
func (s Speed) Seconds(sec float64) time.Duration {
	return time.Duration(sec / s.Factor() * float64(time.Second))
}
