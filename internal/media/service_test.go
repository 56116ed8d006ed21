package media

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub-media/internal/events"
	"learnhub-media/internal/models"
	"learnhub-media/internal/storage"
)

func TestRegisterUploadCreatesPlaceholder(t *testing.T) {
	f := newFixture(t)
	asset, err := f.service.RegisterUpload(context.Background(), RegisterRequest{
		OwnerUserID: 5,
		Filename:    "../../week1\x00.mov",
		MimeType:    "video/quicktime",
		Size:        2048,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusUploading, asset.Status)
	assert.Equal(t, "week1.mov", asset.OriginalFilename)
	assert.Equal(t, int64(2048), asset.SizeBytes)

	_, ok := f.objects.Object(asset.StorageKey + "/.placeholder")
	assert.True(t, ok)
}

func TestRegisterUploadValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.RegisterUpload(ctx, RegisterRequest{Filename: "a.pdf", MimeType: "application/pdf"})
	require.True(t, IsValidation(err))
	_, err = f.service.RegisterUpload(ctx, RegisterRequest{Filename: "a.mp4", MimeType: "video/mp4", Size: DefaultMaxBytes + 1})
	require.True(t, IsFileTooLarge(err))
	_, err = f.service.RegisterUpload(ctx, RegisterRequest{Filename: "  ", MimeType: "video/mp4"})
	require.True(t, IsValidation(err))

	stores, _ := f.objects.counts()
	assert.Zero(t, stores)
}

func TestRegisterUploadToleratesPlaceholderFailure(t *testing.T) {
	f := newFixture(t)
	f.objects.failStore = failKeysWithSuffix("/.placeholder")
	asset, err := f.service.RegisterUpload(context.Background(), RegisterRequest{Filename: "a.mp4", MimeType: "video/mp4"})
	require.NoError(t, err)
	assert.Positive(t, asset.ID)
}

func TestGetAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, err := f.ingestor.Ingest(ctx, IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)

	asset, err := f.service.GetAsset(ctx, result.MediaAssetID)
	require.NoError(t, err)
	require.Len(t, asset.Versions, 2)
	assert.Contains(t, asset.Versions[0].PresignedURL, result.StorageKey+"/360p.mp4")

	_, err = f.service.GetAsset(ctx, 999)
	require.ErrorIs(t, err, ErrAssetNotFound)
}

func TestListAssetsFiltersOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, owner := range []int64{1, 2, 1} {
		_, err := f.service.RegisterUpload(ctx, RegisterRequest{OwnerUserID: owner, Filename: "a.mp4", MimeType: "video/mp4"})
		require.NoError(t, err)
		f.clock.Advance(1)
	}
	assets, err := f.service.ListAssets(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	for _, asset := range assets {
		assert.Equal(t, int64(1), asset.OwnerUserID)
	}
	all, err := f.service.ListAssets(ctx, storage.AnyOwner, 1000)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteAssetRemovesRowWhenStorageFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, err := f.ingestor.Ingest(ctx, IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)
	f.objects.failDelete = func(string) error { return errors.New("access denied") }

	require.NoError(t, f.service.DeleteAsset(ctx, result.MediaAssetID))

	_, err = f.repo.GetAsset(ctx, result.MediaAssetID)
	require.ErrorIs(t, err, storage.ErrAssetNotFound)
	published := f.publisher.Events()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeAssetDeleted, published[1].Type)
}

func TestDeleteAssetRemovesObjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, err := f.ingestor.Ingest(ctx, IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
	require.NoError(t, err)
	require.NotEmpty(t, f.objects.Keys())

	require.NoError(t, f.service.DeleteAsset(ctx, result.MediaAssetID))
	assert.Empty(t, f.objects.Keys())
}

func TestDeleteAssetUnknownIDTouchesNoStorage(t *testing.T) {
	f := newFixture(t)
	err := f.service.DeleteAsset(context.Background(), 77)
	require.ErrorIs(t, err, ErrAssetNotFound)
	stores, deletes := f.objects.counts()
	assert.Zero(t, stores)
	assert.Zero(t, deletes)
	assert.Empty(t, f.publisher.Events())
}

func storeObject(t *testing.T, f *fixture, key string, size int) []byte {
	t.Helper()
	body := make([]byte, size)
	for i := range body {
		body[i] = byte(i % 251)
	}
	require.NoError(t, f.objects.MemoryObjectStore.Store(context.Background(), key, body, "video/mp4"))
	return body
}

func TestStreamByKeyRange(t *testing.T) {
	f := newFixture(t)
	body := storeObject(t, f, "videos/abc/720p.mp4", 1000)

	stream, err := f.service.StreamByKey(context.Background(), "abc/720p.mp4", "bytes=100-199")
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.True(t, stream.Partial)
	assert.Equal(t, "bytes 100-199/1000", stream.ContentRange())
	assert.Equal(t, int64(100), stream.Length())
	got, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, body[100:200], got)
}

func TestStreamByKeyFull(t *testing.T) {
	f := newFixture(t)
	body := storeObject(t, f, "videos/abc/original/video.mp4", 300)

	stream, err := f.service.StreamByKey(context.Background(), "abc/original/video.mp4", "")
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.False(t, stream.Partial)
	assert.Equal(t, int64(300), stream.Size)
	assert.Equal(t, int64(300), stream.Length())
	assert.Equal(t, "video/mp4", stream.ContentType)
	got, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestStreamByKeyErrors(t *testing.T) {
	f := newFixture(t)
	storeObject(t, f, "videos/abc/720p.mp4", 1000)
	ctx := context.Background()

	_, err := f.service.StreamByKey(ctx, "abc/missing.mp4", "")
	require.ErrorIs(t, err, ErrObjectNotFound)

	_, err = f.service.StreamByKey(ctx, "abc/720p.mp4", "bytes=abc")
	require.True(t, IsValidation(err))

	_, err = f.service.StreamByKey(ctx, "abc/720p.mp4", "bytes=5000-")
	var unsatisfiable *RangeNotSatisfiableError
	require.ErrorAs(t, err, &unsatisfiable)
	assert.Equal(t, "bytes */1000", unsatisfiable.ContentRange())

	_, err = f.service.StreamByKey(ctx, "../etc/passwd", "")
	require.True(t, IsValidation(err))
}

func TestParseByteRange(t *testing.T) {
	cases := []struct {
		header        string
		start, end    int64
		malformed     bool
		unsatisfiable bool
	}{
		{header: "bytes=0-0", start: 0, end: 0},
		{header: "bytes=100-199", start: 100, end: 199},
		{header: "bytes=900-", start: 900, end: 999},
		{header: "bytes=-100", start: 900, end: 999},
		{header: "bytes=-5000", start: 0, end: 999},
		{header: "bytes=990-5000", start: 990, end: 999},
		{header: "bytes=1000-", unsatisfiable: true},
		{header: "bytes=-0", unsatisfiable: true},
		{header: "bytes=200-100", malformed: true},
		{header: "bytes=0-1,5-9", malformed: true},
		{header: "items=0-1", malformed: true},
		{header: "bytes=x-1", malformed: true},
		{header: "bytes=-", malformed: true},
		{header: "bytes=+1-2", malformed: true},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			start, end, err := parseByteRange(tc.header, 1000)
			switch {
			case tc.malformed:
				require.True(t, IsValidation(err), "err=%v", err)
			case tc.unsatisfiable:
				var target *RangeNotSatisfiableError
				require.ErrorAs(t, err, &target)
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.start, start)
				assert.Equal(t, tc.end, end)
			}
		})
	}
}

func TestPresignByKey(t *testing.T) {
	f := newFixture(t)
	storeObject(t, f, "videos/abc/720p.mp4", 10)
	ctx := context.Background()

	url, err := f.service.PresignByKey(ctx, "abc/720p.mp4")
	require.NoError(t, err)
	assert.Contains(t, url, "videos/abc/720p.mp4")

	_, err = f.service.PresignByKey(ctx, "abc/1080p.mp4")
	require.ErrorIs(t, err, ErrObjectNotFound)

	f.objects.failPresign = errors.New("signer offline")
	_, err = f.service.PresignByKey(ctx, "abc/720p.mp4")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestServicePing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.service.Ping(context.Background()))
}
