package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"learnhub-media/internal/observability/logging"
	"learnhub-media/internal/observability/metrics"
	"learnhub-media/internal/storage"
)

// ReconcilerConfig wires a Reconciler.
type ReconcilerConfig struct {
	Repository storage.AssetRepository
	Objects    storage.ObjectStore
	Layout     KeyLayout
	// DeleteOrphans removes folders that have no asset row.
	DeleteOrphans bool
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Folders        int
	OrphanFolders  []string
	DeletedObjects int
	FailedObjects  int
}

// Reconciler finds object folders that no asset row references.
type Reconciler struct {
	repo          storage.AssetRepository
	objects       storage.ObjectStore
	layout        KeyLayout
	deleteOrphans bool
	logger        *slog.Logger
	metrics       *metrics.Recorder
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Repository == nil {
		return nil, errors.New("asset repository is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store is required")
	}
	r := &Reconciler{
		repo:          cfg.Repository,
		objects:       cfg.Objects,
		layout:        cfg.Layout,
		deleteOrphans: cfg.DeleteOrphans,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = logging.WithComponent(r.logger, "reconciler")
	if r.metrics == nil {
		r.metrics = metrics.Default()
	}
	return r, nil
}

// Reconcile lists every key under the layout prefix and checks each folder
// against the repository.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	keys, err := r.objects.List(ctx, r.layout.prefix())
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list objects: %w", err)
	}
	folders := make(map[string][]string)
	for _, key := range keys {
		folder := r.layout.FolderOf(key)
		if folder == "" {
			continue
		}
		folders[folder] = append(folders[folder], key)
	}
	names := make([]string, 0, len(folders))
	for folder := range folders {
		names = append(names, folder)
	}
	sort.Strings(names)

	report := ReconcileReport{Folders: len(names)}
	for _, folder := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, err := r.repo.GetAssetByStorageKey(ctx, folder)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrAssetNotFound) {
			return report, fmt.Errorf("look up folder %s: %w", folder, err)
		}
		report.OrphanFolders = append(report.OrphanFolders, folder)
		if !r.deleteOrphans {
			continue
		}
		logger := r.logger.With("storage_key", folder)
		failed := deleteObjects(ctx, r.objects, logger, folders[folder])
		report.FailedObjects += failed
		report.DeletedObjects += len(folders[folder]) - failed
	}

	r.metrics.SetReconcileOrphans(len(report.OrphanFolders))
	if len(report.OrphanFolders) > 0 {
		r.logger.Warn("orphaned folders found",
			"folders", len(report.OrphanFolders),
			"deleted_objects", report.DeletedObjects,
			"failed_objects", report.FailedObjects,
			"delete", r.deleteOrphans)
	}
	return report, nil
}
