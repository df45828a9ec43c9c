// Package scheduler runs named periodic tasks, each on its own goroutine,
// with drift-corrected timing and per-task statistics.
//
// The next run is always scheduled at target+interval, never now+interval,
// so a slow tick does not push every later tick back. Intervals and start
// delays are divided by the pool's speed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/clock"
)

var (
	ErrDuplicateTask = errors.New("scheduler: duplicate task name")
	ErrUnknownTask   = errors.New("scheduler: unknown task")
	ErrTaskPanic     = errors.New("scheduler: task panicked")
	ErrBadInterval   = errors.New("scheduler: interval must be positive")
)

// TaskFunc is the body of a task, called once per acting tick.
type TaskFunc func(ctx context.Context) error

// Task describes a periodic job. SkipIterations n makes the body run only
// on every (n+1)-th tick.
type Task struct {
	Name           string
	Interval       time.Duration
	StartDelay     time.Duration
	SkipIterations int
	Run            TaskFunc
}

// Stats are the counters of one task.
type Stats struct {
	Name         string        `json:"name"`
	Running      bool          `json:"running"`
	Ticks        int64         `json:"ticks"`
	Runs         int64         `json:"runs"`
	Faults       int64         `json:"faults"`
	SkippedTicks int64         `json:"skipped_ticks"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	TotalLag     time.Duration `json:"total_lag"`
	LastError    string        `json:"last_error,omitempty"`
}

// HealthReporter receives the outcome of every task run; a nil error
// marks the task healthy.
type HealthReporter interface {
	Report(check string, err error)
}

// Observer receives per-run timings, e.g. for metrics.
type Observer interface {
	ObserveTask(name string, took, lag time.Duration, err error)
}

// Config wires a Pool.
type Config struct {
	Speed    clock.Speed
	Clock    clock.Clock
	Logger   *zap.Logger
	Health   HealthReporter
	Observer Observer
}

// Pool owns a set of tasks.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	workers map[string]*worker
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{cfg: cfg, workers: make(map[string]*worker)}
}

// Add registers a task without starting it.
func (p *Pool) Add(t Task) error {
	if t.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrBadInterval, t.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	p.workers[t.Name] = &worker{
		task:   t,
		cfg:    p.cfg,
		logger: p.cfg.Logger.With(zap.String("task", t.Name)),
		stats:  Stats{Name: t.Name},
	}
	return nil
}

// Start launches every task that is not running.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.start(ctx)
	}
}

// StartTask launches one task.
func (p *Pool) StartTask(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	w.start(ctx)
	return nil
}

// Stop asks a task to stop after its in-flight tick. With wait it blocks
// until that tick has finished.
func (p *Pool) Stop(name string, wait bool) error {
	p.mu.Lock()
	w, ok := p.workers[name]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	w.stop(wait)
	return nil
}

// StopAll stops every task.
func (p *Pool) StopAll(wait bool) {
	p.mu.Lock()
	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		w.stop(false)
	}
	if wait {
		for _, w := range workers {
			w.stop(true)
		}
	}
}

// Stats returns the counters of one task.
func (p *Pool) Stats(name string) (Stats, bool) {
	p.mu.Lock()
	w, ok := p.workers[name]
	p.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return w.snapshot(), true
}

// AllStats returns the counters of every task ordered by name.
func (p *Pool) AllStats() []Stats {
	p.mu.Lock()
	out := make([]Stats, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.snapshot())
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
