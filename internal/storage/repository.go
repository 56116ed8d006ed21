package storage

import (
	"context"
	"time"

	"learnhub-media/internal/models"
)

// AssetRepository exposes the datastore operations required by the media
// pipeline, the HTTP handlers and the cleanup sweeper.
type AssetRepository interface {
	Ping(ctx context.Context) error

	CreateAsset(ctx context.Context, params CreateAssetParams) (models.VideoAsset, error)
	GetAsset(ctx context.Context, id int64) (models.VideoAsset, error)
	GetAssetByStorageKey(ctx context.Context, storageKey string) (models.VideoAsset, error)
	// ListAssets returns the newest assets of ownerUserID. Zero selects
	// anonymous uploads; AnyOwner lists every owner.
	ListAssets(ctx context.Context, ownerUserID int64, limit int) ([]models.VideoAsset, error)
	UpdateAsset(ctx context.Context, id int64, update AssetUpdate) (models.VideoAsset, error)
	DeleteAsset(ctx context.Context, id int64) error

	// ClaimAsset atomically moves an asset from one status to another. It
	// returns ErrAssetNotFound when the row is missing and ErrStatusConflict
	// when the row is not in the expected status, leaving it untouched.
	ClaimAsset(ctx context.Context, id int64, from, to models.AssetStatus) (models.VideoAsset, error)

	// ListStaleAssets returns up to limit assets in one of the given statuses
	// that went stale strictly before cutoff, oldest first. PROCESSING rows
	// age from their claim, every other status from creation.
	ListStaleAssets(ctx context.Context, statuses []models.AssetStatus, cutoff time.Time, limit int) ([]models.VideoAsset, error)

	Close(ctx context.Context) error
}

// AnyOwner disables the owner filter of ListAssets.
const AnyOwner int64 = -1

// staleSince is the instant an asset starts ageing toward the sweeper TTL.
func staleSince(asset models.VideoAsset) time.Time {
	if asset.Status == models.AssetStatusProcessing && !asset.UpdatedAt.IsZero() {
		return asset.UpdatedAt
	}
	return asset.CreatedAt
}

func containsStatus(statuses []models.AssetStatus, status models.AssetStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func statusStrings(statuses []models.AssetStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}
