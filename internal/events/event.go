// Package events publishes video asset lifecycle notifications to a message
// broker so other platform services can react to finished uploads.
package events

import (
	"time"

	"learnhub-media/internal/models"
)

// Type enumerates the lifecycle events emitted by the media service.
type Type string

const (
	// TypeAssetReady is emitted once an ingest persisted at least one version.
	TypeAssetReady Type = "asset.ready"
	// TypeAssetFailed is emitted when not even the original upload could be
	// stored.
	TypeAssetFailed Type = "asset.failed"
	// TypeAssetDeleted is emitted after an asset row was removed on request.
	TypeAssetDeleted Type = "asset.deleted"
	// TypeAssetExpired is emitted when the sweeper reaps an abandoned upload.
	TypeAssetExpired Type = "asset.expired"
)

// Event is the wire representation handed to every broker.
type Event struct {
	Type        Type                  `json:"type"`
	AssetID     int64                 `json:"assetId"`
	OwnerUserID int64                 `json:"ownerUserId"`
	StorageKey  string                `json:"storageKey"`
	Status      models.AssetStatus    `json:"status"`
	Versions    []models.VideoVersion `json:"versions,omitempty"`
	OccurredAt  time.Time             `json:"occurredAt"`
}

// ForAsset builds an event describing asset at the given instant.
func ForAsset(eventType Type, asset models.VideoAsset, at time.Time) Event {
	return Event{
		Type:        eventType,
		AssetID:     asset.ID,
		OwnerUserID: asset.OwnerUserID,
		StorageKey:  asset.StorageKey,
		Status:      asset.Status,
		Versions:    append([]models.VideoVersion(nil), asset.Versions...),
		OccurredAt:  at.UTC(),
	}
}
