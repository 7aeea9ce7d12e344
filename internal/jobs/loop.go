package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop runs a worker, sleeps for the interval, and runs it again. The next run
// is only scheduled once the previous one returns, so runs never overlap.
type Loop struct {
	name     string
	interval time.Duration
	run      func(context.Context) (Summary, error)
	logger   *slog.Logger
	guard    Guard

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewLoop(name string, interval time.Duration, run func(context.Context) (Summary, error), logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{name: name, interval: interval, run: run, logger: logger}
}

func (l *Loop) Name() string { return l.name }

// Start launches the loop. The first run starts immediately. Calling Start on a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-timer.C:
				_, _ = l.RunOnce(runCtx)
				timer.Reset(l.interval)
			}
		}
	}()

	l.logger.Info("worker started", "worker", l.name, "interval", l.interval)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return, or for ctx to expire.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.logger.Info("worker stopped", "worker", l.name)
	return nil
}

// RunOnce performs a single guarded run. It returns ErrRunInProgress if a run is already going.
func (l *Loop) RunOnce(ctx context.Context) (Summary, error) {
	return runGuarded(ctx, &l.guard, l.name, l.logger, l.run)
}
