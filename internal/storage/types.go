package storage

import (
	"errors"
	"time"

	"learnhub-media/internal/models"
)

var (
	// ErrAssetNotFound is returned when no video asset matches the lookup.
	ErrAssetNotFound = errors.New("video asset not found")
	// ErrStatusConflict is returned when a conditional status transition does
	// not find the asset in the expected status.
	ErrStatusConflict = errors.New("video asset status conflict")
	// ErrObjectNotFound is returned by object stores for missing keys.
	ErrObjectNotFound = errors.New("object not found")
)

// CreateAssetParams captures the attributes recorded when an asset row is
// first persisted.
type CreateAssetParams struct {
	OwnerUserID      int64
	OriginalFilename string
	MimeType         string
	SizeBytes        int64
	StorageProvider  string
	StorageBucket    string
	StorageKey       string
	Status           models.AssetStatus
}

// AssetUpdate describes the mutable fields of a video asset. Nil fields are
// left untouched.
type AssetUpdate struct {
	OwnerUserID      *int64
	OriginalFilename *string
	MimeType         *string
	SizeBytes        *int64
	StorageProvider  *string
	StorageBucket    *string
	PublicURL        *string
	Status           *models.AssetStatus
	Versions         []models.VideoVersion
}

// ObjectStorageConfig describes the S3-compatible bucket backing the gateway.
type ObjectStorageConfig struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Prefix         string
	PublicEndpoint string
	CreateBucket   bool
	RequestTimeout time.Duration
}

// ObjectInfo reports the stored size and content type of an object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

const defaultObjectStorageRequestTimeout = 30 * time.Second
