// Package health keeps the latest status of named checks. Scheduler tasks,
// account reconciliation and persistence report here; the API serves it.
package health

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/clock"
)

// Check is the latest outcome of one named check.
type Check struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	Failures  int64     `json:"failures"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry is safe for concurrent use.
type Registry struct {
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.RWMutex
	checks map[string]*Check
}

// NewRegistry creates an empty registry.
func NewRegistry(c clock.Clock, logger *zap.Logger) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{clock: c, logger: logger, checks: make(map[string]*Check)}
}

// Report records the outcome of a check; a nil error marks it healthy.
// Only transitions are logged.
func (r *Registry) Report(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.checks[name]
	if !ok {
		c = &Check{Name: name, Healthy: true}
		r.checks[name] = c
	}
	wasHealthy := c.Healthy
	c.UpdatedAt = r.clock.Now()
	if err != nil {
		c.Healthy = false
		c.Message = err.Error()
		c.Failures++
		if wasHealthy {
			r.logger.Warn("health check failing", zap.String("check", name), zap.Error(err))
		}
		return
	}
	c.Healthy = true
	c.Message = ""
	if !wasHealthy {
		r.logger.Info("health check recovered", zap.String("check", name))
	}
}

// Remove forgets a check.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.checks, name)
	r.mu.Unlock()
}

// Check returns one check.
func (r *Registry) Check(name string) (Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[name]
	if !ok {
		return Check{}, false
	}
	return *c, true
}

// Status reports whether every check is healthy, with all checks by name.
func (r *Registry) Status() (bool, []Check) {
	r.mu.RLock()
	out := make([]Check, 0, len(r.checks))
	healthy := true
	for _, c := range r.checks {
		out = append(out, *c)
		healthy = healthy && c.Healthy
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return healthy, out
}
