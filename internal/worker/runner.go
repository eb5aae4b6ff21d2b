// Package worker runs the recurring background passes (reminder delivery,
// offer expiry) with per-pass isolation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single pass; zero means the interval.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Runner ticks each task on its own interval. A pass that errors, panics or
// overruns is logged and the next pass runs as scheduled.
type Runner struct {
	tasks   []Task
	locker  redisclient.Locker
	metrics *metrics.SchedulingMetrics
	logger  *slog.Logger
}

// NewRunner builds a runner. With a nil locker every replica runs every pass,
// which is safe because the passes claim their work atomically.
func NewRunner(locker redisclient.Locker, m *metrics.SchedulingMetrics, logger *slog.Logger) *Runner {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	return &Runner{
		locker:  locker,
		metrics: m,
		logger:  logging.OrDefault(logger).With("component", "worker"),
	}
}

func (r *Runner) Add(t Task) {
	r.tasks = append(r.tasks, t)
}

// Run starts every task, running each once immediately, and blocks until ctx
// is cancelled and in-flight passes have returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range r.tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, t)
		}()
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	r.logger.Info("task started", "task", t.Name, "interval", t.Interval)
	_ = r.RunOnce(ctx, t)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("task stopped", "task", t.Name)
			return
		case <-ticker.C:
			_ = r.RunOnce(ctx, t)
		}
	}
}

// RunOnce executes a single pass of t. Passes already running on another
// replica are skipped.
func (r *Runner) RunOnce(ctx context.Context, t Task) (err error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = t.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err = r.locker.WithLock(runCtx, "task:"+t.Name, func(ctx context.Context) error {
		return r.protect(ctx, t)
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		r.logger.Debug("pass skipped, held by another replica", "task", t.Name)
		return nil
	}

	elapsed := time.Since(start)
	r.metrics.ObservePass(t.Name, elapsed.Seconds(), err != nil)
	if err != nil {
		r.logger.Error("pass failed", "task", t.Name, "duration", elapsed, "error", err)
		return err
	}
	r.logger.Debug("pass complete", "task", t.Name, "duration", elapsed)
	return nil
}

func (r *Runner) protect(ctx context.Context, t Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", t.Name, rec, debug.Stack())
		}
	}()
	return t.Run(ctx)
}
