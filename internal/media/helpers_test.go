package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"learnhub-media/internal/events"
	"learnhub-media/internal/observability/metrics"
	"learnhub-media/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTranscoder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	delay map[string]time.Duration
	block bool
}

func (f *fakeTranscoder) Encode(ctx context.Context, source []byte, resolution, bitrate string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, resolution)
	err := f.fail[resolution]
	delay := f.delay[resolution]
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte("encoded:" + resolution + ":" + bitrate), nil
}

func (f *fakeTranscoder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recordingStore wraps the in-memory gateway, counts calls and injects
// failures for matching keys.
type recordingStore struct {
	*storage.MemoryObjectStore

	mu          sync.Mutex
	stores      int
	deletes     int
	failStore   func(key string) error
	failDelete  func(key string) error
	failPresign error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryObjectStore: storage.NewMemoryObjectStore("learnhub-test", "")}
}

func (s *recordingStore) Store(ctx context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	s.stores++
	fail := s.failStore
	s.mu.Unlock()
	if fail != nil {
		if err := fail(key); err != nil {
			return err
		}
	}
	return s.MemoryObjectStore.Store(ctx, key, body, contentType)
}

func (s *recordingStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes++
	fail := s.failDelete
	s.mu.Unlock()
	if fail != nil {
		if err := fail(key); err != nil {
			return err
		}
	}
	return s.MemoryObjectStore.Delete(ctx, key)
}

func (s *recordingStore) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	err := s.failPresign
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.MemoryObjectStore.PresignedGet(ctx, key, ttl)
}

func (s *recordingStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores, s.deletes
}

func failKeysWithSuffix(suffix string) func(string) error {
	return func(key string) error {
		if strings.HasSuffix(key, suffix) {
			return errors.New("bucket unavailable")
		}
		return nil
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	repo       storage.AssetRepository
	objects    *recordingStore
	transcoder *fakeTranscoder
	publisher  *events.MemoryPublisher
	metrics    *metrics.Recorder
	clock      *testClock
	ingestor   *Ingestor
	service    *Service
}

func newFixture(t *testing.T, configure ...func(*IngestConfig)) *fixture {
	t.Helper()
	clock := newTestClock()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "assets.json"), storage.WithClock(clock.Now))
	require.NoError(t, err)

	f := &fixture{
		repo:       repo,
		objects:    newRecordingStore(),
		transcoder: &fakeTranscoder{},
		publisher:  events.NewMemoryPublisher(),
		metrics:    metrics.New(),
		clock:      clock,
	}
	cfg := IngestConfig{
		Repository: f.repo,
		Objects:    f.objects,
		Transcoder: f.transcoder,
		Profiles: NewProfileTable(
			ResolutionProfile{Name: "360p", Resolution: "640x360", Bitrate: "800k"},
			ResolutionProfile{Name: "720p", Resolution: "1280x720", Bitrate: "2500k"},
		),
		TranscodeEnabled: true,
		Logger:           discardLogger(),
		Metrics:          f.metrics,
		Publisher:        f.publisher,
		Clock:            clock.Now,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	f.ingestor, err = NewIngestor(cfg)
	require.NoError(t, err)
	f.service, err = NewService(f.ingestor)
	require.NoError(t, err)
	return f
}

func sampleVideo(size int) []byte {
	return bytes.Repeat([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}, size/8+1)[:size]
}

func int64Ptr(v int64) *int64 {
	return &v
}
