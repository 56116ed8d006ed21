package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"learnhub-media/internal/models"
)

type dataset struct {
	NextAssetID int64                       `json:"nextAssetId"`
	Assets      map[int64]models.VideoAsset `json:"assets"`
}

func newDataset() dataset {
	return dataset{
		NextAssetID: 1,
		Assets:      make(map[int64]models.VideoAsset),
	}
}

// Storage is the JSON file backed asset repository used for local development
// and single-node deployments. Every mutation rewrites the file atomically.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage opens (or initialises) the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("json store path required")
	}
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Assets == nil {
		s.data.Assets = make(map[int64]models.VideoAsset)
	}
	for id := range s.data.Assets {
		if id >= s.data.NextAssetID {
			s.data.NextAssetID = id + 1
		}
	}
	if s.data.NextAssetID <= 0 {
		s.data.NextAssetID = 1
	}
	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// commitLocked persists the dataset and rolls the in-memory copy back when
// the write fails. Callers hold s.mu.
func (s *Storage) commitLocked(previous dataset) error {
	if err := s.persistDataset(s.data); err != nil {
		s.data = previous
		return err
	}
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := dataset{NextAssetID: src.NextAssetID, Assets: make(map[int64]models.VideoAsset, len(src.Assets))}
	for id, asset := range src.Assets {
		clone.Assets[id] = asset.Clone()
	}
	return clone
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.filePath))
	return err
}

func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func (s *Storage) CreateAsset(ctx context.Context, params CreateAssetParams) (models.VideoAsset, error) {
	if strings.TrimSpace(params.StorageKey) == "" {
		return models.VideoAsset{}, fmt.Errorf("storage key required")
	}
	status := params.Status
	if status == "" {
		status = models.AssetStatusUploading
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Assets {
		if existing.StorageKey == params.StorageKey {
			return models.VideoAsset{}, fmt.Errorf("storage key %s already in use", params.StorageKey)
		}
	}

	previous := cloneDataset(s.data)
	now := s.now()
	asset := models.VideoAsset{
		ID:               s.data.NextAssetID,
		OwnerUserID:      params.OwnerUserID,
		OriginalFilename: params.OriginalFilename,
		MimeType:         params.MimeType,
		SizeBytes:        params.SizeBytes,
		StorageProvider:  params.StorageProvider,
		StorageBucket:    params.StorageBucket,
		StorageKey:       params.StorageKey,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.data.Assets[asset.ID] = asset
	s.data.NextAssetID++
	if err := s.commitLocked(previous); err != nil {
		return models.VideoAsset{}, err
	}
	return asset.Clone(), nil
}

func (s *Storage) GetAsset(ctx context.Context, id int64) (models.VideoAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.data.Assets[id]
	if !ok {
		return models.VideoAsset{}, fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
	}
	return asset.Clone(), nil
}

func (s *Storage) GetAssetByStorageKey(ctx context.Context, storageKey string) (models.VideoAsset, error) {
	key := strings.Trim(strings.TrimSpace(storageKey), "/")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, asset := range s.data.Assets {
		if asset.StorageKey == key {
			return asset.Clone(), nil
		}
	}
	return models.VideoAsset{}, fmt.Errorf("asset with key %s: %w", key, ErrAssetNotFound)
}

func (s *Storage) ListAssets(ctx context.Context, ownerUserID int64, limit int) ([]models.VideoAsset, error) {
	s.mu.RLock()
	assets := make([]models.VideoAsset, 0, len(s.data.Assets))
	for _, asset := range s.data.Assets {
		if ownerUserID != AnyOwner && asset.OwnerUserID != ownerUserID {
			continue
		}
		assets = append(assets, asset.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(assets, func(i, j int) bool {
		if assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].ID > assets[j].ID
		}
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
	if limit > 0 && len(assets) > limit {
		assets = assets[:limit]
	}
	return assets, nil
}

func (s *Storage) UpdateAsset(ctx context.Context, id int64, update AssetUpdate) (models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.data.Assets[id]
	if !ok {
		return models.VideoAsset{}, fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
	}
	previous := cloneDataset(s.data)
	applyAssetUpdate(&asset, update)
	asset.UpdatedAt = s.now()
	s.data.Assets[id] = asset
	if err := s.commitLocked(previous); err != nil {
		return models.VideoAsset{}, err
	}
	return asset.Clone(), nil
}

func (s *Storage) ClaimAsset(ctx context.Context, id int64, from, to models.AssetStatus) (models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.data.Assets[id]
	if !ok {
		return models.VideoAsset{}, fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
	}
	if asset.Status != from {
		return asset.Clone(), fmt.Errorf("asset %d is %s: %w", id, asset.Status, ErrStatusConflict)
	}
	previous := cloneDataset(s.data)
	asset.Status = to
	asset.UpdatedAt = s.now()
	s.data.Assets[id] = asset
	if err := s.commitLocked(previous); err != nil {
		return models.VideoAsset{}, err
	}
	return asset.Clone(), nil
}

func (s *Storage) DeleteAsset(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Assets[id]; !ok {
		return fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
	}
	previous := cloneDataset(s.data)
	delete(s.data.Assets, id)
	return s.commitLocked(previous)
}

func (s *Storage) ListStaleAssets(ctx context.Context, statuses []models.AssetStatus, cutoff time.Time, limit int) ([]models.VideoAsset, error) {
	s.mu.RLock()
	stale := make([]models.VideoAsset, 0)
	for _, asset := range s.data.Assets {
		if !containsStatus(statuses, asset.Status) {
			continue
		}
		if !staleSince(asset).Before(cutoff) {
			continue
		}
		stale = append(stale, asset.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool {
		if stale[i].CreatedAt.Equal(stale[j].CreatedAt) {
			return stale[i].ID < stale[j].ID
		}
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func applyAssetUpdate(asset *models.VideoAsset, update AssetUpdate) {
	if update.OwnerUserID != nil {
		asset.OwnerUserID = *update.OwnerUserID
	}
	if update.OriginalFilename != nil {
		asset.OriginalFilename = strings.TrimSpace(*update.OriginalFilename)
	}
	if update.MimeType != nil {
		asset.MimeType = strings.TrimSpace(*update.MimeType)
	}
	if update.SizeBytes != nil {
		asset.SizeBytes = *update.SizeBytes
	}
	if update.StorageProvider != nil {
		asset.StorageProvider = *update.StorageProvider
	}
	if update.StorageBucket != nil {
		asset.StorageBucket = *update.StorageBucket
	}
	if update.PublicURL != nil {
		asset.PublicURL = strings.TrimSpace(*update.PublicURL)
	}
	if update.Status != nil {
		asset.Status = *update.Status
	}
	if update.Versions != nil {
		asset.Versions = append([]models.VideoVersion(nil), update.Versions...)
	}
}
