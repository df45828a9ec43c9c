package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

type worker struct {
	task   Task
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	stats   Stats
	running bool
	quit    chan struct{}
	done    chan struct{}
}

func (w *worker) start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.quit = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx, w.quit, w.done)
}

func (w *worker) stop(wait bool) {
	w.mu.Lock()
	if !w.running {
		done := w.done
		w.mu.Unlock()
		if wait && done != nil {
			<-done
		}
		return
	}
	w.running = false
	close(w.quit)
	done := w.done
	w.mu.Unlock()

	if wait {
		<-done
	}
}

func (w *worker) snapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Running = w.running
	return s
}

func (w *worker) loop(ctx context.Context, quit, done chan struct{}) {
	defer close(done)

	speed := w.cfg.Speed
	interval := speed.Duration(w.task.Interval)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	if !sleep(ctx, quit, speed.Duration(w.task.StartDelay)) {
		return
	}

	clk := w.cfg.Clock
	target := clk.Now()
	var prev time.Time
	var tick int64

	for {
		started := clk.Now()
		var lag time.Duration
		if !prev.IsZero() {
			if l := started.Sub(prev) - interval; l > 0 {
				lag = l
			}
		}
		prev = started

		tick++
		acting := w.task.SkipIterations <= 0 || (tick-1)%int64(w.task.SkipIterations+1) == 0
		var took time.Duration
		var err error
		if acting {
			err = w.runOnce(ctx)
			took = clk.Now().Sub(started)
		}
		w.record(started, took, lag, acting, err)

		target = target.Add(interval)
		now := clk.Now()
		if behind := now.Sub(target); behind > interval {
			missed := int64(behind / interval)
			target = target.Add(time.Duration(missed) * interval)
			w.mu.Lock()
			w.stats.SkippedTicks += missed
			w.mu.Unlock()
		}

		select {
		case <-quit:
			return
		default:
		}
		if !sleep(ctx, quit, target.Sub(now)) {
			return
		}
	}
}

func (w *worker) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			w.logger.Error("task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	return w.task.Run(ctx)
}

func (w *worker) record(started time.Time, took, lag time.Duration, acting bool, err error) {
	w.mu.Lock()
	w.stats.Ticks++
	w.stats.TotalLag += lag
	if acting {
		w.stats.Runs++
		w.stats.LastRun = started
		w.stats.LastDuration = took
		if err != nil {
			w.stats.Faults++
			w.stats.LastError = err.Error()
		} else {
			w.stats.LastError = ""
		}
	}
	w.mu.Unlock()

	if !acting {
		return
	}
	if err != nil {
		w.logger.Error("task failed", zap.Error(err), zap.Duration("took", took))
	}
	if w.cfg.Health != nil {
		w.cfg.Health.Report("task:"+w.task.Name, err)
	}
	if w.cfg.Observer != nil {
		w.cfg.Observer.ObserveTask(w.task.Name, took, lag, err)
	}
}

// sleep waits for d, reporting false when the task should exit instead.
func sleep(ctx context.Context, quit <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-quit:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-quit:
		return false
	case <-ctx.Done():
		return false
	}
}
