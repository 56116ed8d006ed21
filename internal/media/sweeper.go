package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"learnhub-media/internal/events"
	"learnhub-media/internal/models"
	"learnhub-media/internal/observability/logging"
	"learnhub-media/internal/observability/metrics"
	"learnhub-media/internal/storage"
)

const (
	DefaultSweepInterval = 600 * time.Second
	MinSweepInterval     = 30 * time.Second
	DefaultSweepTTL      = 3600 * time.Second
	MinSweepTTL          = 60 * time.Second
	sweepBatchLimit      = 200
)

// SweeperConfig wires a Sweeper.
type SweeperConfig struct {
	Repository storage.AssetRepository
	Objects    storage.ObjectStore
	Profiles   ProfileTable
	Layout     KeyLayout
	// TTL is how long an asset may stay UPLOADING or PROCESSING.
	TTL time.Duration

	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Publisher events.Publisher
	Clock     func() time.Time
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Scanned         int
	Removed         int
	Failed          int
	OrphanedObjects int
}

// Sweeper reaps assets abandoned before reaching a terminal status.
type Sweeper struct {
	repo      storage.AssetRepository
	objects   storage.ObjectStore
	profiles  ProfileTable
	layout    KeyLayout
	ttl       time.Duration
	logger    *slog.Logger
	metrics   *metrics.Recorder
	publisher events.Publisher
	now       func() time.Time
}

func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Repository == nil {
		return nil, errors.New("asset repository is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store is required")
	}
	s := &Sweeper{
		repo:      cfg.Repository,
		objects:   cfg.Objects,
		profiles:  cfg.Profiles,
		layout:    cfg.Layout,
		ttl:       ClampSweepTTL(cfg.TTL),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
		now:       cfg.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = logging.WithComponent(s.logger, "sweeper")
	if s.metrics == nil {
		s.metrics = metrics.Default()
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// ClampSweepTTL applies the default and floor to a configured TTL.
func ClampSweepTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultSweepTTL
	}
	if ttl < MinSweepTTL {
		return MinSweepTTL
	}
	return ttl
}

// ClampSweepInterval applies the default and floor to a configured interval.
func ClampSweepInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		return DefaultSweepInterval
	}
	if interval < MinSweepInterval {
		return MinSweepInterval
	}
	return interval
}

// TTL returns the effective stale threshold.
func (s *Sweeper) TTL() time.Duration {
	return s.ttl
}

// Sweep removes up to one batch of stale assets. Failures on one asset are
// logged and do not stop the pass; only a failed listing is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	cutoff := s.now().Add(-s.ttl)
	stale, err := s.repo.ListStaleAssets(ctx,
		[]models.AssetStatus{models.AssetStatusUploading, models.AssetStatusProcessing},
		cutoff, sweepBatchLimit)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list stale assets: %w", err)
	}

	report := SweepReport{Scanned: len(stale)}
	for _, asset := range stale {
		if err := ctx.Err(); err != nil {
			break
		}
		logger := s.logger.With("asset_id", asset.ID, "storage_key", asset.StorageKey, "status", asset.Status)
		report.OrphanedObjects += deleteObjects(ctx, s.objects, logger, expectedAssetKeys(s.layout, s.profiles, asset))
		if err := s.repo.DeleteAsset(ctx, asset.ID); err != nil && !errors.Is(err, storage.ErrAssetNotFound) {
			report.Failed++
			logger.Error("delete stale asset", "error", err)
			continue
		}
		report.Removed++
		publishEvent(ctx, s.publisher, s.metrics, logger, events.ForAsset(events.TypeAssetExpired, asset, s.now()))
	}

	s.metrics.ObserveSweep(report.Removed, report.Failed, report.OrphanedObjects)
	if report.Scanned > 0 {
		s.logger.Info("sweep finished",
			"scanned", report.Scanned,
			"removed", report.Removed,
			"failed", report.Failed,
			"orphaned_objects", report.OrphanedObjects)
	}
	if report.OrphanedObjects > 0 {
		s.logger.Warn("sweep left orphaned objects", "orphaned_objects", report.OrphanedObjects)
	}
	return report, nil
}
