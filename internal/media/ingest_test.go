package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub-media/internal/events"
	"learnhub-media/internal/models"
	"learnhub-media/internal/storage"
)

func TestIngestEncodesProfilesInOrder(t *testing.T) {
	f := newFixture(t)
	data := sampleVideo(4096)

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{
		Data:        data,
		MimeType:    "video/mp4",
		Filename:    "lecture-01.mp4",
		OwnerUserID: 9,
	})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(result.StorageKey, "videos/"))
	folderID := strings.TrimPrefix(result.StorageKey, "videos/")
	require.Len(t, result.Versions, 2)
	assert.Equal(t, "360p", result.Versions[0].Quality)
	assert.Equal(t, folderID+"/360p.mp4", result.Versions[0].PresignPath)
	assert.Equal(t, "720p", result.Versions[1].Quality)
	assert.Equal(t, folderID+"/720p.mp4", result.Versions[1].PresignPath)
	assert.NotEmpty(t, result.Versions[0].PresignedURL)

	stored, ok := f.objects.Object(result.StorageKey + "/720p.mp4")
	require.True(t, ok)
	assert.Equal(t, "encoded:1280x720:2500k", string(stored))

	asset, err := f.repo.GetAsset(context.Background(), result.MediaAssetID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusReady, asset.Status)
	assert.Equal(t, int64(9), asset.OwnerUserID)
	assert.Equal(t, "lecture-01.mp4", asset.OriginalFilename)
	assert.Equal(t, int64(len(data)), asset.SizeBytes)
	assert.Equal(t, "memory", asset.StorageProvider)
	assert.Len(t, asset.Versions, 2)

	published := f.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeAssetReady, published[0].Type)
	assert.Equal(t, result.MediaAssetID, published[0].AssetID)
	count, err := testutil.GatherAndCount(f.metrics.Registry(), "learnhub_media_renditions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIngestWithTranscodingDisabledStoresOriginal(t *testing.T) {
	f := newFixture(t, func(cfg *IngestConfig) { cfg.TranscodeEnabled = false })
	data := sampleVideo(1024)

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: data, MimeType: "video/webm", Filename: "clip.webm"})
	require.NoError(t, err)
	require.Len(t, result.Versions, 1)
	assert.Equal(t, "original", result.Versions[0].Quality)
	assert.Equal(t, strings.TrimPrefix(result.StorageKey, "videos/")+"/original/video.mp4", result.Versions[0].PresignPath)
	assert.Empty(t, f.transcoder.Calls())

	stored, ok := f.objects.Object(result.StorageKey + "/original/video.mp4")
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestIngestFallsBackWhenEveryProfileFails(t *testing.T) {
	f := newFixture(t)
	f.transcoder.fail = map[string]error{
		"640x360":  errors.New("unsupported codec"),
		"1280x720": errors.New("unsupported codec"),
	}
	data := sampleVideo(2048)

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: data, MimeType: "video/mp4", Filename: "x.mp4"})
	require.NoError(t, err)
	require.Len(t, result.Versions, 1)
	assert.Equal(t, "original", result.Versions[0].Quality)

	stored, ok := f.objects.Object(result.StorageKey + "/original/video.mp4")
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, stored))

	asset, err := f.repo.GetAsset(context.Background(), result.MediaAssetID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusReady, asset.Status)
}

func TestIngestSkipsFailedProfiles(t *testing.T) {
	f := newFixture(t)
	f.transcoder.fail = map[string]error{"640x360": errors.New("boom")}

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(512), MimeType: "video/mp4", Filename: "x.mp4"})
	require.NoError(t, err)
	require.Len(t, result.Versions, 1)
	assert.Equal(t, "720p", result.Versions[0].Quality)
	_, ok := f.objects.Object(result.StorageKey + "/original/video.mp4")
	assert.False(t, ok)
}

func TestIngestSkipsProfileWhenStoreFails(t *testing.T) {
	f := newFixture(t)
	f.objects.failStore = failKeysWithSuffix("/360p.mp4")

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(512), MimeType: "video/mp4", Filename: "x.mp4"})
	require.NoError(t, err)
	require.Len(t, result.Versions, 1)
	assert.Equal(t, "720p", result.Versions[0].Quality)
}

func TestIngestPresignFailureLeavesURLEmpty(t *testing.T) {
	f := newFixture(t)
	f.objects.failPresign = errors.New("signing disabled")

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(512), MimeType: "video/mp4", Filename: "x.mp4"})
	require.NoError(t, err)
	require.Len(t, result.Versions, 2)
	for _, version := range result.Versions {
		assert.Empty(t, version.PresignedURL)
	}
}

func TestIngestReusesRegisteredFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered, err := f.service.RegisterUpload(ctx, RegisterRequest{OwnerUserID: 3, Filename: "a.mp4", MimeType: "video/mp4", Size: 100})
	require.NoError(t, err)

	result, err := f.ingestor.Ingest(ctx, IngestRequest{
		Data:            sampleVideo(100),
		MimeType:        "video/mp4",
		Filename:        "a.mp4",
		ExistingAssetID: int64Ptr(registered.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, registered.ID, result.MediaAssetID)
	assert.Equal(t, registered.StorageKey, result.StorageKey)

	asset, err := f.repo.GetAsset(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusReady, asset.Status)
	assert.Equal(t, int64(3), asset.OwnerUserID)
}

func TestIngestKeepsRegisteredOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered, err := f.service.RegisterUpload(ctx, RegisterRequest{OwnerUserID: 3, Filename: "a.mp4", MimeType: "video/mp4"})
	require.NoError(t, err)

	_, err = f.ingestor.Ingest(ctx, IngestRequest{
		OwnerUserID:     4,
		Data:            sampleVideo(100),
		MimeType:        "video/mp4",
		Filename:        "a.mp4",
		ExistingAssetID: int64Ptr(registered.ID),
	})
	require.NoError(t, err)
	asset, err := f.repo.GetAsset(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), asset.OwnerUserID)
}

func TestIngestConcurrentClaimsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered, err := f.service.RegisterUpload(ctx, RegisterRequest{OwnerUserID: 3, Filename: "a.mp4", MimeType: "video/mp4"})
	require.NoError(t, err)

	const callers = 4
	errs := make(chan error, callers)
	start := make(chan struct{})
	for n := 0; n < callers; n++ {
		go func() {
			<-start
			_, err := f.ingestor.Ingest(ctx, IngestRequest{
				OwnerUserID:     3,
				Data:            sampleVideo(100),
				MimeType:        "video/mp4",
				Filename:        "a.mp4",
				ExistingAssetID: int64Ptr(registered.ID),
			})
			errs <- err
		}()
	}
	close(start)

	succeeded, conflicts := 0, 0
	for n := 0; n < callers; n++ {
		err := <-errs
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInvalidState):
			conflicts++
		default:
			t.Fatalf("unexpected ingest error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, conflicts)

	asset, err := f.repo.GetAsset(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusReady, asset.Status)
	assert.Len(t, f.transcoder.Calls(), 2, "only the winner encodes")
}

func TestIngestRejectsAssetNotAwaitingUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.ingestor.Ingest(ctx, IngestRequest{Data: sampleVideo(100), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)
	before, err := f.repo.GetAsset(ctx, first.MediaAssetID)
	require.NoError(t, err)
	storesBefore, _ := f.objects.counts()
	callsBefore := len(f.transcoder.Calls())
	f.clock.Advance(time.Minute)

	_, err = f.ingestor.Ingest(ctx, IngestRequest{
		Data:            sampleVideo(100),
		MimeType:        "video/mp4",
		Filename:        "b.mp4",
		ExistingAssetID: int64Ptr(first.MediaAssetID),
	})
	require.ErrorIs(t, err, ErrInvalidState)

	after, err := f.repo.GetAsset(ctx, first.MediaAssetID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	storesAfter, _ := f.objects.counts()
	assert.Equal(t, storesBefore, storesAfter)
	assert.Len(t, f.transcoder.Calls(), callsBefore)
}

func TestIngestUnknownAsset(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingestor.Ingest(context.Background(), IngestRequest{
		Data:            sampleVideo(100),
		MimeType:        "video/mp4",
		ExistingAssetID: int64Ptr(404),
	})
	require.ErrorIs(t, err, ErrAssetNotFound)
	stores, _ := f.objects.counts()
	assert.Zero(t, stores)
}

func TestIngestValidation(t *testing.T) {
	cases := []struct {
		name     string
		req      IngestRequest
		message  string
		tooLarge bool
	}{
		{
			name:    "empty file wins over bad mime",
			req:     IngestRequest{MimeType: "application/pdf"},
			message: "file missing",
		},
		{
			name:    "pdf rejected",
			req:     IngestRequest{Data: []byte("%PDF-1.7"), MimeType: "application/pdf"},
			message: "mime_type is not allowed",
		},
		{
			name:    "video type outside allow-list",
			req:     IngestRequest{Data: []byte("x"), MimeType: "video/x-flv"},
			message: "mime_type is not allowed",
		},
		{
			name:     "declared size over limit",
			req:      IngestRequest{Data: []byte("x"), MimeType: "video/mp4", Size: DefaultMaxBytes + 1},
			message:  "file too large",
			tooLarge: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.ingestor.Ingest(context.Background(), tc.req)
			require.Error(t, err)
			require.True(t, IsValidation(err))
			assert.Equal(t, tc.message, err.Error())
			assert.Equal(t, tc.tooLarge, IsFileTooLarge(err))

			stores, _ := f.objects.counts()
			assert.Zero(t, stores)
			assert.Empty(t, f.transcoder.Calls())
			assets, err := f.repo.ListAssets(context.Background(), storage.AnyOwner, 10)
			require.NoError(t, err)
			assert.Empty(t, assets)
		})
	}
}

func TestIngestAcceptsMimeParameters(t *testing.T) {
	f := newFixture(t)
	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(64), MimeType: "Video/MP4; codecs=avc1", Filename: "a.mp4"})
	require.NoError(t, err)
	asset, err := f.repo.GetAsset(context.Background(), result.MediaAssetID)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", asset.MimeType)
}

func TestIngestMarksFailedWhenOriginalCannotBeStored(t *testing.T) {
	f := newFixture(t, func(cfg *IngestConfig) { cfg.TranscodeEnabled = false })
	f.objects.failStore = failKeysWithSuffix("/original/video.mp4")

	_, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.ErrorIs(t, err, ErrStorageUnavailable)

	assets, err := f.repo.ListAssets(context.Background(), storage.AnyOwner, 10)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, models.AssetStatusFailed, assets[0].Status)

	published := f.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeAssetFailed, published[0].Type)
}

func TestIngestConcurrentProfilesKeepTableOrder(t *testing.T) {
	f := newFixture(t, func(cfg *IngestConfig) { cfg.Concurrency = 2 })
	f.transcoder.delay = map[string]time.Duration{"640x360": 30 * time.Millisecond}

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)
	require.Len(t, result.Versions, 2)
	assert.Equal(t, "360p", result.Versions[0].Quality)
	assert.Equal(t, "720p", result.Versions[1].Quality)
}

func TestIngestEncodeTimeoutFallsBack(t *testing.T) {
	f := newFixture(t, func(cfg *IngestConfig) { cfg.EncodeTimeout = 20 * time.Millisecond })
	f.transcoder.block = true

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)
	require.Len(t, result.Versions, 1)
	assert.Equal(t, "original", result.Versions[0].Quality)
}

func TestIngestPublicURLUsesFirstVersion(t *testing.T) {
	f := newFixture(t, func(cfg *IngestConfig) { cfg.PublicBaseURL = "https://cdn.learnhub.test/" })

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.learnhub.test/"+result.StorageKey+"/360p.mp4", result.PublicURL)
}

type fakeFrames struct {
	frame []byte
	err   error
}

func (f fakeFrames) ExtractFrame(context.Context, []byte, time.Duration) ([]byte, error) {
	return f.frame, f.err
}

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIngestStoresPoster(t *testing.T) {
	frame := pngFrame(t, 1920, 1080)
	f := newFixture(t, func(cfg *IngestConfig) {
		cfg.PosterEnabled = true
		cfg.Frames = fakeFrames{frame: frame}
	})

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)

	poster, ok := f.objects.Object(result.StorageKey + "/poster.jpg")
	require.True(t, ok)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(poster))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 360, cfg.Height)
}

func TestIngestPosterFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, func(cfg *IngestConfig) {
		cfg.PosterEnabled = true
		cfg.Frames = fakeFrames{err: errors.New("no video stream")}
	})

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)
	_, ok := f.objects.Object(result.StorageKey + "/poster.jpg")
	assert.False(t, ok)
}

func TestNewIngestorRequiresProfilesWhenTranscoding(t *testing.T) {
	f := newFixture(t)
	_, err := NewIngestor(IngestConfig{
		Repository:       f.repo,
		Objects:          f.objects,
		Transcoder:       f.transcoder,
		TranscodeEnabled: true,
	})
	require.ErrorIs(t, err, ErrNoProfiles)
}
