package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"learnhub-media/internal/media"
)

type fakeSweeper struct {
	calls chan struct{}
	err   error
}

func newFakeSweeper() *fakeSweeper {
	return &fakeSweeper{calls: make(chan struct{}, 8)}
}

func (f *fakeSweeper) Sweep(context.Context) (media.SweepReport, error) {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return media.SweepReport{}, f.err
}

type fakeReconciler struct {
	runs atomic.Int32
	ran  chan struct{}
}

func (f *fakeReconciler) Reconcile(context.Context) (media.ReconcileReport, error) {
	f.runs.Add(1)
	select {
	case f.ran <- struct{}{}:
	default:
	}
	return media.ReconcileReport{}, nil
}

type manualTicker struct {
	c        chan time.Time
	stopped  chan struct{}
	interval time.Duration
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick(t *testing.T) {
	t.Helper()
	select {
	case m.c <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("worker did not accept tick")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartSweepWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	sweeper := newFakeSweeper()
	sweeper.err = errors.New("repository offline")

	stop := startSweepWorkerWithTicker(ctx, sweepWorkerConfig{
		Sweeper:  sweeper,
		Interval: time.Minute,
		Logger:   discardLogger(),
	}, func(d time.Duration) sweepTicker {
		ticker.interval = d
		return ticker
	})

	ticker.Tick(t)
	select {
	case <-sweeper.calls:
	case <-time.After(time.Second):
		t.Fatal("expected sweep to be invoked")
	}

	cancel()
	stop()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestSweepWorkerClampsInterval(t *testing.T) {
	ticker := newManualTicker()
	stop := startSweepWorkerWithTicker(context.Background(), sweepWorkerConfig{
		Sweeper:  newFakeSweeper(),
		Interval: time.Second,
		Logger:   discardLogger(),
	}, func(d time.Duration) sweepTicker {
		ticker.interval = d
		return ticker
	})
	stop()

	if ticker.interval != media.MinSweepInterval {
		t.Fatalf("expected interval clamped to %s, got %s", media.MinSweepInterval, ticker.interval)
	}
}

func TestSweepWorkerReconcilesEveryNthSweep(t *testing.T) {
	ticker := newManualTicker()
	reconciler := &fakeReconciler{ran: make(chan struct{}, 1)}
	stop := startSweepWorkerWithTicker(context.Background(), sweepWorkerConfig{
		Sweeper:        newFakeSweeper(),
		Interval:       time.Minute,
		Reconciler:     reconciler,
		ReconcileEvery: 2,
		Logger:         discardLogger(),
	}, func(time.Duration) sweepTicker { return ticker })
	defer stop()

	ticker.Tick(t)
	ticker.Tick(t)
	select {
	case <-reconciler.ran:
	case <-time.After(time.Second):
		t.Fatal("expected reconcile after second sweep")
	}
	ticker.Tick(t)
	stop()
	if got := reconciler.runs.Load(); got != 1 {
		t.Fatalf("expected one reconcile after three sweeps, got %d", got)
	}
}

func TestStartSweepWorkerWithoutSweeper(t *testing.T) {
	stop := startSweepWorker(context.Background(), sweepWorkerConfig{})
	stop()
}
