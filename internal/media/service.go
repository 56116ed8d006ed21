package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"learnhub-media/internal/events"
	"learnhub-media/internal/models"
	"learnhub-media/internal/observability/logging"
	"learnhub-media/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service exposes the asset operations served over HTTP. It shares its
// collaborators with the Ingestor it wraps.
type Service struct {
	*Ingestor
	logger *slog.Logger
}

// NewService wraps ingestor with the remaining asset operations.
func NewService(ingestor *Ingestor) (*Service, error) {
	if ingestor == nil {
		return nil, errors.New("ingestor is required")
	}
	return &Service{Ingestor: ingestor, logger: logging.WithComponent(ingestor.logger, "assets")}, nil
}

// Ping checks the repository and the object store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	if err := s.objects.Ping(ctx); err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	return nil
}

// RegisterRequest describes an upload the client is about to send.
type RegisterRequest struct {
	OwnerUserID int64
	Filename    string
	MimeType    string
	Size        int64
}

// RegisterUpload records an UPLOADING asset with a fresh folder so a later
// ingest can target it.
func (s *Service) RegisterUpload(ctx context.Context, req RegisterRequest) (models.VideoAsset, error) {
	filename := sanitizeFilename(req.Filename)
	if filename == "" {
		return models.VideoAsset{}, validationError(msgFilenameMissing)
	}
	mimeType, size, err := s.validateMetadata(req.MimeType, req.Size, 0)
	if err != nil {
		return models.VideoAsset{}, err
	}
	folder := s.layout.NewFolder()
	asset, err := s.repo.CreateAsset(ctx, storage.CreateAssetParams{
		OwnerUserID:      req.OwnerUserID,
		OriginalFilename: filename,
		MimeType:         mimeType,
		SizeBytes:        size,
		StorageProvider:  s.objects.Provider(),
		StorageBucket:    s.objects.Bucket(),
		StorageKey:       folder,
		Status:           models.AssetStatusUploading,
	})
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("create asset: %w", err)
	}
	logger := logging.FromContext(logging.ContextWithAssetID(ctx, asset.ID), s.logger)
	if err := s.objects.Store(ctx, s.layout.PlaceholderKey(folder), []byte{}, "application/octet-stream"); err != nil {
		logger.Warn("store upload placeholder", "storage_key", folder, "error", err)
	}
	logger.Info("upload registered", "storage_key", folder)
	return asset, nil
}

// LoadAsset returns the stored asset row as-is.
func (s *Service) LoadAsset(ctx context.Context, id int64) (models.VideoAsset, error) {
	asset, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			return models.VideoAsset{}, fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
		}
		return models.VideoAsset{}, fmt.Errorf("load asset %d: %w", id, err)
	}
	return asset, nil
}

// GetAsset returns the asset with freshly presigned version URLs.
func (s *Service) GetAsset(ctx context.Context, id int64) (models.VideoAsset, error) {
	asset, err := s.LoadAsset(ctx, id)
	if err != nil {
		return models.VideoAsset{}, err
	}
	s.refreshPresignedURLs(ctx, &asset)
	return asset, nil
}

// ListAssets returns the newest assets of one owner, or of every owner when
// ownerUserID is storage.AnyOwner. Owner zero lists anonymous uploads.
func (s *Service) ListAssets(ctx context.Context, ownerUserID int64, limit int) ([]models.VideoAsset, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	assets, err := s.repo.ListAssets(ctx, ownerUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

func (s *Service) refreshPresignedURLs(ctx context.Context, asset *models.VideoAsset) {
	for idx := range asset.Versions {
		key, err := s.layout.ObjectKey(asset.Versions[idx].PresignPath)
		if err != nil {
			continue
		}
		asset.Versions[idx].PresignedURL = s.presign(ctx, s.logger, key)
	}
}

// DeleteAsset removes every object of the asset and then its row. Object
// delete failures are logged and do not keep the row alive.
func (s *Service) DeleteAsset(ctx context.Context, id int64) error {
	asset, err := s.LoadAsset(ctx, id)
	if err != nil {
		return err
	}
	logger := logging.FromContext(logging.ContextWithAssetID(ctx, id), s.logger)

	failed := deleteObjects(ctx, s.objects, logger, s.assetKeys(asset))
	if failed > 0 {
		logger.Warn("asset objects left behind", "storage_key", asset.StorageKey, "orphaned_objects", failed)
	}
	if err := s.repo.DeleteAsset(ctx, id); err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			return fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
		}
		return fmt.Errorf("delete asset %d: %w", id, err)
	}
	logger.Info("asset deleted", "storage_key", asset.StorageKey)
	publishEvent(ctx, s.publisher, s.metrics, logger, events.ForAsset(events.TypeAssetDeleted, asset, s.now()))
	return nil
}

// assetKeys lists the expected keys of the folder plus any recorded version
// that the current profile table no longer names.
func (s *Service) assetKeys(asset models.VideoAsset) []string {
	return expectedAssetKeys(s.layout, s.profiles, asset)
}

func expectedAssetKeys(layout KeyLayout, profiles ProfileTable, asset models.VideoAsset) []string {
	keys := layout.ExpectedKeys(asset.StorageKey, profiles)
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		seen[key] = struct{}{}
	}
	for _, version := range asset.Versions {
		key, err := layout.ObjectKey(version.PresignPath)
		if err != nil {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// deleteObjects removes keys and returns how many deletes failed.
func deleteObjects(ctx context.Context, objects storage.ObjectStore, logger *slog.Logger, keys []string) int {
	failed := 0
	for _, key := range keys {
		if err := objects.Delete(ctx, key); err != nil {
			failed++
			logger.Warn("delete object failed", "key", key, "error", err)
		}
	}
	return failed
}

// Stream is an open object body ready to be copied to a client.
type Stream struct {
	Body        io.ReadCloser
	ContentType string
	// Size is the full object size.
	Size int64
	// Start and End are the inclusive byte offsets served.
	Start   int64
	End     int64
	Partial bool
}

// Length is the number of bytes Body yields.
func (s Stream) Length() int64 {
	if s.Size == 0 {
		return 0
	}
	return s.End - s.Start + 1
}

// ContentRange renders the Content-Range header of a partial response.
func (s Stream) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", s.Start, s.End, s.Size)
}

// RangeNotSatisfiableError reports a syntactically valid range that lies
// outside the object.
type RangeNotSatisfiableError struct {
	Size int64
}

func (e *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("range not satisfiable for %d byte object", e.Size)
}

// ContentRange renders the Content-Range header of a 416 response.
func (e *RangeNotSatisfiableError) ContentRange() string {
	return fmt.Sprintf("bytes */%d", e.Size)
}

// StreamByKey opens the object at key, a path relative to the key prefix.
// An empty rangeHeader streams the whole object.
func (s *Service) StreamByKey(ctx context.Context, key, rangeHeader string) (Stream, error) {
	objectKey, err := s.layout.ObjectKey(key)
	if err != nil {
		return Stream{}, err
	}
	rangeHeader = strings.TrimSpace(rangeHeader)
	if rangeHeader == "" {
		body, info, err := s.objects.Fetch(ctx, objectKey)
		if err != nil {
			return Stream{}, err
		}
		stream := Stream{Body: body, ContentType: info.ContentType, Size: info.Size}
		if info.Size > 0 {
			stream.End = info.Size - 1
		}
		return stream, nil
	}

	info, err := s.objects.Stat(ctx, objectKey)
	if err != nil {
		return Stream{}, err
	}
	start, end, err := parseByteRange(rangeHeader, info.Size)
	if err != nil {
		return Stream{}, err
	}
	body, info, err := s.objects.FetchRange(ctx, objectKey, start, end-start+1)
	if err != nil {
		return Stream{}, err
	}
	return Stream{
		Body:        body,
		ContentType: info.ContentType,
		Size:        info.Size,
		Start:       start,
		End:         end,
		Partial:     true,
	}, nil
}

// parseByteRange parses a single `bytes=` range against an object of size
// bytes and returns inclusive offsets. Accepted forms are `s-e`, `s-` and
// `-n`; an end past the object is clamped.
func parseByteRange(header string, size int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, validationError(msgInvalidRange)
	}
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.Contains(spec, ",") {
		return 0, 0, validationError(msgInvalidRange)
	}
	startText, endText, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, validationError(msgInvalidRange)
	}
	startText = strings.TrimSpace(startText)
	endText = strings.TrimSpace(endText)

	if startText == "" {
		suffix, err := parseOffset(endText)
		if err != nil {
			return 0, 0, err
		}
		if suffix == 0 || size == 0 {
			return 0, 0, &RangeNotSatisfiableError{Size: size}
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := parseOffset(startText)
	if err != nil {
		return 0, 0, err
	}
	end := size - 1
	if endText != "" {
		end, err = parseOffset(endText)
		if err != nil {
			return 0, 0, err
		}
		if end < start {
			return 0, 0, validationError(msgInvalidRange)
		}
	}
	if start >= size {
		return 0, 0, &RangeNotSatisfiableError{Size: size}
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func parseOffset(text string) (int64, error) {
	if text == "" {
		return 0, validationError(msgInvalidRange)
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, validationError(msgInvalidRange)
		}
	}
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, validationError(msgInvalidRange)
	}
	return value, nil
}

// PresignByKey signs a short-lived GET URL for an existing object. Both a
// missing object and a signing failure report ErrObjectNotFound.
func (s *Service) PresignByKey(ctx context.Context, key string) (string, error) {
	objectKey, err := s.layout.ObjectKey(key)
	if err != nil {
		return "", err
	}
	if _, err := s.objects.Stat(ctx, objectKey); err != nil {
		return "", err
	}
	url, err := s.objects.PresignedGet(ctx, objectKey, s.presignTTL)
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("presign failed", "key", objectKey, "error", err)
		return "", fmt.Errorf("presign %s: %w", objectKey, ErrObjectNotFound)
	}
	return url, nil
}
