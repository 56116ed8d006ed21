package models

import (
	"strings"
	"time"
)

// AssetStatus tracks where a video asset is in its upload lifecycle.
type AssetStatus string

const (
	AssetStatusUploading  AssetStatus = "UPLOADING"
	AssetStatusProcessing AssetStatus = "PROCESSING"
	AssetStatusReady      AssetStatus = "READY"
	AssetStatusFailed     AssetStatus = "FAILED"
)

// ParseAssetStatus normalises a stored status value. Unknown values are
// reported as invalid.
func ParseAssetStatus(value string) (AssetStatus, bool) {
	switch AssetStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case AssetStatusUploading:
		return AssetStatusUploading, true
	case AssetStatusProcessing:
		return AssetStatusProcessing, true
	case AssetStatusReady:
		return AssetStatusReady, true
	case AssetStatusFailed:
		return AssetStatusFailed, true
	default:
		return "", false
	}
}

// Pending reports whether the asset has not reached a terminal status yet.
func (s AssetStatus) Pending() bool {
	return s == AssetStatusUploading || s == AssetStatusProcessing
}

// VideoVersion describes one playable rendition of an asset. PresignPath is
// relative to the object key prefix.
type VideoVersion struct {
	Quality      string `json:"quality"`
	PresignPath  string `json:"presignPath"`
	PresignedURL string `json:"presignedUrl,omitempty"`
}

// VideoAsset is the persisted record for an uploaded video. StorageKey names
// a folder, not a single object.
type VideoAsset struct {
	ID               int64          `json:"id"`
	OwnerUserID      int64          `json:"ownerUserId"`
	OriginalFilename string         `json:"originalFilename"`
	MimeType         string         `json:"mimeType"`
	SizeBytes        int64          `json:"sizeBytes"`
	StorageProvider  string         `json:"storageProvider"`
	StorageBucket    string         `json:"storageBucket"`
	StorageKey       string         `json:"storageKey"`
	PublicURL        string         `json:"publicUrl,omitempty"`
	Status           AssetStatus    `json:"status"`
	Versions         []VideoVersion `json:"versions,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (a VideoAsset) Clone() VideoAsset {
	clone := a
	if a.Versions != nil {
		clone.Versions = append([]VideoVersion(nil), a.Versions...)
	}
	return clone
}
