package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileFindsOrphanFolders(t *testing.T) {
	for _, deleteOrphans := range []bool{false, true} {
		f := newFixture(t)
		ctx := context.Background()
		result, err := f.ingestor.Ingest(ctx, IngestRequest{Data: sampleVideo(64), MimeType: "video/mp4", Filename: "a.mp4"})
		require.NoError(t, err)
		storeObject(t, f, "videos/orphan/720p.mp4", 10)
		storeObject(t, f, "videos/orphan/poster.jpg", 10)
		storeObject(t, f, "elsewhere/file.bin", 10)

		reconciler, err := NewReconciler(ReconcilerConfig{
			Repository:    f.repo,
			Objects:       f.objects,
			Layout:        f.ingestor.Layout(),
			DeleteOrphans: deleteOrphans,
			Logger:        discardLogger(),
			Metrics:       f.metrics,
		})
		require.NoError(t, err)

		report, err := reconciler.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Folders)
		assert.Equal(t, []string{"videos/orphan"}, report.OrphanFolders)

		_, kept := f.objects.Object(result.StorageKey + "/360p.mp4")
		assert.True(t, kept)
		_, orphanLeft := f.objects.Object("videos/orphan/720p.mp4")
		if deleteOrphans {
			assert.Equal(t, 2, report.DeletedObjects)
			assert.False(t, orphanLeft)
		} else {
			assert.Zero(t, report.DeletedObjects)
			assert.True(t, orphanLeft)
		}
		_, unrelated := f.objects.Object("elsewhere/file.bin")
		assert.True(t, unrelated)
	}
}
