package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stakeladder/backend/internal/metrics"
)

// Guard lets at most one run through at a time. The zero value is ready to use.
type Guard struct {
	running atomic.Bool
}

// TryRun calls fn unless another call is in flight, and reports whether it ran.
// The flag is released on every exit path, including a panic in fn.
func (g *Guard) TryRun(fn func() error) (ran bool, err error) {
	if !g.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer g.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ran = true
	err = fn()
	return ran, err
}

// Running reports whether a run is in flight.
func (g *Guard) Running() bool { return g.running.Load() }

// runGuarded executes run under g, records the outcome and logs one summary line.
func runGuarded(ctx context.Context, g *Guard, name string, logger *slog.Logger, run func(context.Context) (Summary, error)) (Summary, error) {
	var sum Summary
	start := time.Now()
	ran, err := g.TryRun(func() error {
		var runErr error
		sum, runErr = run(ctx)
		return runErr
	})
	if !ran {
		metrics.RecordWorkerRun(name, "skipped", 0)
		logger.Warn("run skipped, previous run still in progress", "worker", name)
		return Summary{}, ErrRunInProgress
	}
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordWorkerRun(name, "error", elapsed)
		logger.Error("run failed", "worker", name, "error", err, "duration", elapsed)
		return sum, err
	}
	metrics.RecordWorkerRun(name, "ok", elapsed)
	logger.Info("run finished", "worker", name,
		"processed", sum.Processed, "succeeded", sum.Succeeded, "failed", sum.Failed, "skipped", sum.Skipped,
		"duration", elapsed)
	return sum, nil
}
