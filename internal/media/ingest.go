package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"learnhub-media/internal/events"
	"learnhub-media/internal/models"
	"learnhub-media/internal/observability/logging"
	"learnhub-media/internal/observability/metrics"
	"learnhub-media/internal/storage"
)

const (
	// DefaultMaxBytes bounds a single upload at 2 GiB.
	DefaultMaxBytes          int64 = 2 << 30
	defaultEncodeTimeout           = 10 * time.Minute
	defaultPresignTTL              = time.Hour
	defaultTranscodeParallel       = 1
	posterOffset                   = time.Second
	untitledFilename               = "untitled"
)

// DefaultAllowedMimeTypes is the upload allow-list used when none is configured.
var DefaultAllowedMimeTypes = []string{
	"video/mp4",
	"video/quicktime",
	"video/webm",
	"video/x-matroska",
	"video/x-msvideo",
	"video/mpeg",
	"video/ogg",
	"video/3gpp",
}

// IngestConfig wires an Ingestor to its collaborators.
type IngestConfig struct {
	Repository storage.AssetRepository
	Objects    storage.ObjectStore
	Transcoder Transcoder
	// Frames extracts poster frames. When nil and the Transcoder implements
	// FrameExtractor, the Transcoder is used.
	Frames   FrameExtractor
	Profiles ProfileTable
	Layout   KeyLayout

	AllowedMimeTypes []string
	MaxBytes         int64
	TranscodeEnabled bool
	// Concurrency is the number of profiles encoded at once for one upload.
	Concurrency   int
	EncodeTimeout time.Duration
	PresignTTL    time.Duration
	PublicBaseURL string
	PosterEnabled bool

	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Publisher events.Publisher
	Clock     func() time.Time
}

// IngestRequest is one uploaded video.
type IngestRequest struct {
	Data        []byte
	MimeType    string
	Filename    string
	Size        int64
	OwnerUserID int64
	// ExistingAssetID targets an asset previously registered as UPLOADING.
	ExistingAssetID *int64
}

// IngestResult is the manifest returned to the uploader.
type IngestResult struct {
	MediaAssetID int64                 `json:"mediaAssetId"`
	StorageKey   string                `json:"storageKey"`
	Versions     []models.VideoVersion `json:"versions"`
	PublicURL    string                `json:"publicUrl,omitempty"`
}

// Ingestor validates uploads, transcodes them across the profile table and
// records the resulting asset.
type Ingestor struct {
	repo       storage.AssetRepository
	objects    storage.ObjectStore
	transcoder Transcoder
	frames     FrameExtractor
	profiles   ProfileTable
	layout     KeyLayout

	allowed       map[string]struct{}
	maxBytes      int64
	transcode     bool
	concurrency   int
	encodeTimeout time.Duration
	presignTTL    time.Duration
	publicBaseURL string
	poster        bool

	logger    *slog.Logger
	metrics   *metrics.Recorder
	publisher events.Publisher
	now       func() time.Time
}

// NewIngestor validates cfg and applies defaults.
func NewIngestor(cfg IngestConfig) (*Ingestor, error) {
	if cfg.Repository == nil {
		return nil, errors.New("asset repository is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store is required")
	}
	if cfg.TranscodeEnabled {
		if cfg.Profiles.Len() == 0 {
			return nil, ErrNoProfiles
		}
		if cfg.Transcoder == nil {
			return nil, errors.New("transcoder is required when transcoding is enabled")
		}
	}

	i := &Ingestor{
		repo:          cfg.Repository,
		objects:       cfg.Objects,
		transcoder:    cfg.Transcoder,
		frames:        cfg.Frames,
		profiles:      cfg.Profiles,
		layout:        cfg.Layout,
		maxBytes:      cfg.MaxBytes,
		transcode:     cfg.TranscodeEnabled,
		concurrency:   cfg.Concurrency,
		encodeTimeout: cfg.EncodeTimeout,
		presignTTL:    cfg.PresignTTL,
		publicBaseURL: strings.TrimSpace(cfg.PublicBaseURL),
		poster:        cfg.PosterEnabled,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		publisher:     cfg.Publisher,
		now:           cfg.Clock,
	}
	if i.frames == nil {
		if extractor, ok := cfg.Transcoder.(FrameExtractor); ok {
			i.frames = extractor
		}
	}
	allowed := cfg.AllowedMimeTypes
	if len(allowed) == 0 {
		allowed = DefaultAllowedMimeTypes
	}
	i.allowed = make(map[string]struct{}, len(allowed))
	for _, mimeType := range allowed {
		if normalized := normalizeMimeType(mimeType); normalized != "" {
			i.allowed[normalized] = struct{}{}
		}
	}
	if i.maxBytes <= 0 {
		i.maxBytes = DefaultMaxBytes
	}
	if i.concurrency <= 0 {
		i.concurrency = defaultTranscodeParallel
	}
	if i.encodeTimeout <= 0 {
		i.encodeTimeout = defaultEncodeTimeout
	}
	if i.presignTTL <= 0 {
		i.presignTTL = defaultPresignTTL
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	i.logger = logging.WithComponent(i.logger, "ingest")
	if i.metrics == nil {
		i.metrics = metrics.Default()
	}
	if i.publisher == nil {
		i.publisher = events.NoopPublisher{}
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i, nil
}

// Layout returns the key layout shared with the other asset operations.
func (i *Ingestor) Layout() KeyLayout {
	return i.layout
}

// Profiles returns the configured ladder.
func (i *Ingestor) Profiles() ProfileTable {
	return i.profiles
}

type rendition struct {
	version models.VideoVersion
	key     string
}

// Ingest runs the full upload pipeline. Validation errors, a missing target
// asset and a target in the wrong status are reported before anything is
// written.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	mimeType, size, err := i.validate(req.Data, req.MimeType, req.Size)
	if err != nil {
		i.metrics.ObserveIngest("rejected")
		return IngestResult{}, err
	}
	filename := sanitizeFilename(req.Filename)
	if filename == "" {
		filename = untitledFilename
	}

	asset, err := i.resolveAsset(ctx, req, filename, mimeType, size)
	if err != nil {
		return IngestResult{}, err
	}
	ctx = logging.ContextWithAssetID(ctx, asset.ID)
	logger := logging.FromContext(ctx, i.logger).With("storage_key", asset.StorageKey)
	folder := asset.StorageKey

	var renditions []rendition
	if i.transcode {
		renditions = i.renderProfiles(ctx, logger, folder, req.Data)
	}
	outcome := "ready"
	if len(renditions) == 0 {
		outcome = "fallback"
		original, err := i.storeOriginal(ctx, folder, req.Data, mimeType)
		if err != nil {
			logger.Error("original upload could not be stored", "error", err)
			i.markFailed(ctx, logger, asset)
			i.metrics.ObserveIngest("failed")
			return IngestResult{}, fmt.Errorf("store original for asset %d: %w: %v", asset.ID, ErrStorageUnavailable, err)
		}
		renditions = []rendition{original}
	}

	if i.poster {
		i.storePoster(ctx, logger, folder, req.Data)
	}

	versions := make([]models.VideoVersion, 0, len(renditions))
	for _, r := range renditions {
		versions = append(versions, r.version)
	}
	publicURL := i.publicURL(renditions[0].key)

	owner := asset.OwnerUserID
	if owner == 0 {
		owner = req.OwnerUserID
	}
	provider := i.objects.Provider()
	bucket := i.objects.Bucket()
	ready := models.AssetStatusReady
	updated, err := i.repo.UpdateAsset(ctx, asset.ID, storage.AssetUpdate{
		OwnerUserID:      &owner,
		OriginalFilename: &filename,
		MimeType:         &mimeType,
		SizeBytes:        &size,
		StorageProvider:  &provider,
		StorageBucket:    &bucket,
		PublicURL:        &publicURL,
		Status:           &ready,
		Versions:         versions,
	})
	if err != nil {
		i.metrics.ObserveIngest("failed")
		return IngestResult{}, fmt.Errorf("persist asset %d: %w", asset.ID, err)
	}
	i.metrics.ObserveIngest(outcome)
	logger.Info("asset ready", "versions", len(versions), "outcome", outcome)
	publishEvent(ctx, i.publisher, i.metrics, logger, events.ForAsset(events.TypeAssetReady, updated, i.now()))

	return IngestResult{
		MediaAssetID: updated.ID,
		StorageKey:   updated.StorageKey,
		Versions:     versions,
		PublicURL:    publicURL,
	}, nil
}

// validate applies the upload rules in order and returns the normalised mime
// type and effective size.
func (i *Ingestor) validate(data []byte, mimeType string, size int64) (string, int64, error) {
	if len(data) == 0 {
		return "", 0, validationError(msgFileMissing)
	}
	return i.validateMetadata(mimeType, size, int64(len(data)))
}

func (i *Ingestor) validateMetadata(mimeType string, size, dataLen int64) (string, int64, error) {
	normalized := normalizeMimeType(mimeType)
	if !strings.HasPrefix(normalized, "video/") {
		return "", 0, validationError(msgMimeNotAllowed)
	}
	if _, ok := i.allowed[normalized]; !ok {
		return "", 0, validationError(msgMimeNotAllowed)
	}
	if size <= 0 {
		size = dataLen
	}
	if size > i.maxBytes {
		return "", 0, validationError(msgFileTooLarge)
	}
	return normalized, size, nil
}

func (i *Ingestor) resolveAsset(ctx context.Context, req IngestRequest, filename, mimeType string, size int64) (models.VideoAsset, error) {
	if req.ExistingAssetID != nil {
		id := *req.ExistingAssetID
		asset, err := i.repo.ClaimAsset(ctx, id, models.AssetStatusUploading, models.AssetStatusProcessing)
		switch {
		case err == nil:
			return asset, nil
		case errors.Is(err, storage.ErrAssetNotFound):
			i.metrics.ObserveIngest("rejected")
			return models.VideoAsset{}, fmt.Errorf("asset %d: %w", id, ErrAssetNotFound)
		case errors.Is(err, storage.ErrStatusConflict):
			i.metrics.ObserveIngest("conflict")
			return models.VideoAsset{}, fmt.Errorf("asset %d is not awaiting an upload: %w", id, ErrInvalidState)
		default:
			i.metrics.ObserveIngest("failed")
			return models.VideoAsset{}, fmt.Errorf("claim asset %d: %w", id, err)
		}
	}
	asset, err := i.repo.CreateAsset(ctx, storage.CreateAssetParams{
		OwnerUserID:      req.OwnerUserID,
		OriginalFilename: filename,
		MimeType:         mimeType,
		SizeBytes:        size,
		StorageProvider:  i.objects.Provider(),
		StorageBucket:    i.objects.Bucket(),
		StorageKey:       i.layout.NewFolder(),
		Status:           models.AssetStatusProcessing,
	})
	if err != nil {
		i.metrics.ObserveIngest("failed")
		return models.VideoAsset{}, fmt.Errorf("create asset: %w", err)
	}
	return asset, nil
}

// renderProfiles encodes every profile and returns the successful renditions
// in table order.
func (i *Ingestor) renderProfiles(ctx context.Context, logger *slog.Logger, folder string, data []byte) []rendition {
	profiles := i.profiles.Profiles()
	results := make([]*rendition, len(profiles))

	var g errgroup.Group
	g.SetLimit(i.concurrency)
	for idx, profile := range profiles {
		g.Go(func() error {
			if r, ok := i.renderProfile(ctx, logger, folder, profile, data); ok {
				results[idx] = &r
			}
			return nil
		})
	}
	_ = g.Wait()

	renditions := make([]rendition, 0, len(profiles))
	for _, r := range results {
		if r != nil {
			renditions = append(renditions, *r)
		}
	}
	return renditions
}

func (i *Ingestor) renderProfile(ctx context.Context, logger *slog.Logger, folder string, profile ResolutionProfile, data []byte) (rendition, bool) {
	encodeCtx, cancel := context.WithTimeout(ctx, i.encodeTimeout)
	defer cancel()

	i.metrics.EncodeStarted()
	started := time.Now()
	encoded, err := i.transcoder.Encode(encodeCtx, data, profile.Resolution, profile.Bitrate)
	i.metrics.EncodeFinished(profile.Name, time.Since(started), err)
	if err != nil {
		logger.Warn("profile encode failed", "profile", profile.Name, "error", err)
		return rendition{}, false
	}
	if len(encoded) == 0 {
		logger.Warn("profile encode produced no output", "profile", profile.Name)
		return rendition{}, false
	}

	key := i.layout.RenditionKey(folder, profile.Name)
	if err := i.objects.Store(ctx, key, encoded, "video/mp4"); err != nil {
		i.metrics.ObserveRenditionStoreFailure(profile.Name)
		logger.Warn("profile store failed", "profile", profile.Name, "key", key, "error", err)
		return rendition{}, false
	}
	return rendition{
		version: models.VideoVersion{
			Quality:      profile.Name,
			PresignPath:  i.layout.PresignPath(folder, profile.Name),
			PresignedURL: i.presign(ctx, logger, key),
		},
		key: key,
	}, true
}

func (i *Ingestor) storeOriginal(ctx context.Context, folder string, data []byte, mimeType string) (rendition, error) {
	key := i.layout.OriginalKey(folder)
	if err := i.objects.Store(ctx, key, data, mimeType); err != nil {
		return rendition{}, err
	}
	return rendition{
		version: models.VideoVersion{
			Quality:      originalQuality,
			PresignPath:  i.layout.PresignPath(folder, originalQuality),
			PresignedURL: i.presign(ctx, i.logger, key),
		},
		key: key,
	}, nil
}

// presign returns a short-lived URL or "" when the gateway cannot sign.
func (i *Ingestor) presign(ctx context.Context, logger *slog.Logger, key string) string {
	url, err := i.objects.PresignedGet(ctx, key, i.presignTTL)
	if err != nil {
		logger.Debug("presign failed", "key", key, "error", err)
		return ""
	}
	return url
}

func (i *Ingestor) publicURL(key string) string {
	if i.publicBaseURL != "" {
		return strings.TrimRight(i.publicBaseURL, "/") + "/" + strings.TrimLeft(key, "/")
	}
	return i.objects.PublicURL(key)
}

func (i *Ingestor) storePoster(ctx context.Context, logger *slog.Logger, folder string, data []byte) {
	if i.frames == nil {
		return
	}
	encodeCtx, cancel := context.WithTimeout(ctx, i.encodeTimeout)
	defer cancel()
	frame, err := i.frames.ExtractFrame(encodeCtx, data, posterOffset)
	if err != nil {
		logger.Warn("poster frame extraction failed", "error", err)
		return
	}
	poster, err := renderPoster(frame)
	if err != nil {
		logger.Warn("poster render failed", "error", err)
		return
	}
	if err := i.objects.Store(ctx, i.layout.PosterKey(folder), poster, "image/jpeg"); err != nil {
		logger.Warn("poster store failed", "error", err)
	}
}

// markFailed records the terminal failure even when the request context has
// already been cancelled.
func (i *Ingestor) markFailed(ctx context.Context, logger *slog.Logger, asset models.VideoAsset) {
	ctx = context.WithoutCancel(ctx)
	failed := models.AssetStatusFailed
	updated, err := i.repo.UpdateAsset(ctx, asset.ID, storage.AssetUpdate{Status: &failed})
	if err != nil {
		logger.Error("mark asset failed", "error", err)
		updated = asset
		updated.Status = failed
	}
	publishEvent(ctx, i.publisher, i.metrics, logger, events.ForAsset(events.TypeAssetFailed, updated, i.now()))
}

// publishEvent delivers event best-effort.
func publishEvent(ctx context.Context, publisher events.Publisher, recorder *metrics.Recorder, logger *slog.Logger, event events.Event) {
	err := publisher.Publish(ctx, event)
	recorder.ObserveEvent(string(event.Type), err)
	if err != nil {
		logger.Warn("publish asset event failed", "event", event.Type, "asset_id", event.AssetID, "error", err)
	}
}
