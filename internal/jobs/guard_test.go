package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGuard_DropsOverlappingRun(t *testing.T) {
	var g Guard
	var inner bool
	ran, err := g.TryRun(func() error {
		inner, _ = g.TryRun(func() error { return nil })
		return nil
	})
	if !ran || err != nil {
		t.Fatalf("outer run: ran=%v err=%v", ran, err)
	}
	if inner {
		t.Error("nested run should have been dropped")
	}
	if g.Running() {
		t.Error("guard still held after run returned")
	}
}

func TestGuard_ReleasesOnPanic(t *testing.T) {
	var g Guard
	ran, err := g.TryRun(func() error { panic("boom") })
	if !ran {
		t.Error("ran: got false, want true")
	}
	if err == nil {
		t.Error("expected panic to surface as an error")
	}
	if ran, _ := g.TryRun(func() error { return nil }); !ran {
		t.Error("guard not released after panic")
	}
}

func TestGuard_PassesThroughError(t *testing.T) {
	var g Guard
	want := errors.New("store down")
	if _, err := g.TryRun(func() error { return want }); !errors.Is(err, want) {
		t.Errorf("err: got %v, want %v", err, want)
	}
}

func TestLoop_RunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	first := make(chan struct{})
	l := NewLoop("test_loop", 5*time.Millisecond, func(context.Context) (Summary, error) {
		if runs.Add(1) == 1 {
			close(first)
		}
		return Summary{Processed: 1}, nil
	}, nil)

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Error("loop kept running after Stop")
	}
}

func TestLoop_RunOnceWhileBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	l := NewLoop("busy_loop", time.Hour, func(context.Context) (Summary, error) {
		close(started)
		<-release
		return Summary{}, nil
	}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := l.RunOnce(context.Background())
		done <- err
	}()
	<-started

	if _, err := l.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second RunOnce: got %v, want %v", err, ErrRunInProgress)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("first RunOnce: %v", err)
	}
}
