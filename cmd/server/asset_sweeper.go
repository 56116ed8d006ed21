package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"learnhub-media/internal/media"
)

type assetSweeper interface {
	Sweep(ctx context.Context) (media.SweepReport, error)
}

type storageReconciler interface {
	Reconcile(ctx context.Context) (media.ReconcileReport, error)
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

type sweepWorkerConfig struct {
	Sweeper  assetSweeper
	Interval time.Duration
	// Reconciler runs after every ReconcileEvery-th sweep when both are set.
	Reconciler     storageReconciler
	ReconcileEvery int
	Logger         *slog.Logger
}

func startSweepWorker(ctx context.Context, cfg sweepWorkerConfig) func() {
	return startSweepWorkerWithTicker(ctx, cfg, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

// startSweepWorkerWithTicker runs one sweep per tick on a single goroutine and
// returns an idempotent stop function that waits for the goroutine to exit.
func startSweepWorkerWithTicker(ctx context.Context, cfg sweepWorkerConfig, newTicker tickerFactory) func() {
	if cfg.Sweeper == nil {
		return func() {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := media.ClampSweepInterval(cfg.Interval)
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		sweeps := 0
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if _, err := cfg.Sweeper.Sweep(workerCtx); err != nil {
					logger.Error("asset sweep failed", "error", err)
				}
				sweeps++
				if cfg.Reconciler == nil || cfg.ReconcileEvery <= 0 || sweeps%cfg.ReconcileEvery != 0 {
					continue
				}
				if _, err := cfg.Reconciler.Reconcile(workerCtx); err != nil {
					logger.Error("storage reconcile failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
