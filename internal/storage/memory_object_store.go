package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	body        []byte
	contentType string
}

// MemoryObjectStore keeps objects in process memory. It backs local
// development when no bucket is configured.
type MemoryObjectStore struct {
	mu             sync.RWMutex
	bucket         string
	publicEndpoint string
	objects        map[string]memoryObject
}

// NewMemoryObjectStore returns an empty in-memory gateway.
func NewMemoryObjectStore(bucket, publicEndpoint string) *MemoryObjectStore {
	if strings.TrimSpace(bucket) == "" {
		bucket = "local"
	}
	return &MemoryObjectStore{
		bucket:         bucket,
		publicEndpoint: publicEndpoint,
		objects:        make(map[string]memoryObject),
	}
}

func (s *MemoryObjectStore) Provider() string { return "memory" }

func (s *MemoryObjectStore) Bucket() string { return s.bucket }

func (s *MemoryObjectStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryObjectStore) Store(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = applyPrefix("", key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{body: append([]byte(nil), body...), contentType: contentType}
	return nil
}

func (s *MemoryObjectStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	key = applyPrefix("", key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	object, ok := s.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("object %s: %w", key, ErrObjectNotFound)
	}
	return ObjectInfo{Key: key, Size: int64(len(object.body)), ContentType: object.contentType}, nil
}

func (s *MemoryObjectStore) Fetch(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	s.mu.RLock()
	body := s.objects[info.Key].body
	s.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(body)), info, nil
}

func (s *MemoryObjectStore) FetchRange(ctx context.Context, key string, start, length int64) (io.ReadCloser, ObjectInfo, error) {
	if start < 0 || length <= 0 {
		return nil, ObjectInfo{}, fmt.Errorf("invalid range start=%d length=%d", start, length)
	}
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	s.mu.RLock()
	body := s.objects[info.Key].body
	s.mu.RUnlock()
	if start >= int64(len(body)) {
		return nil, ObjectInfo{}, fmt.Errorf("range start %d beyond object size %d", start, len(body))
	}
	end := start + length
	if end > int64(len(body)) {
		end = int64(len(body))
	}
	return io.NopCloser(bytes.NewReader(body[start:end])), info, nil
}

func (s *MemoryObjectStore) Delete(ctx context.Context, key string) error {
	key = applyPrefix("", key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryObjectStore) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key = applyPrefix("", key)
	expires := time.Now().Add(ttl).UTC().Unix()
	u := url.URL{Scheme: "memory", Host: s.bucket, Path: "/" + key}
	u.RawQuery = url.Values{"expires": []string{fmt.Sprintf("%d", expires)}}.Encode()
	return u.String(), nil
}

func (s *MemoryObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = applyPrefix("", prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryObjectStore) PublicURL(key string) string {
	return publicURL(s.publicEndpoint, key)
}

// Keys lists every stored key in sorted order.
func (s *MemoryObjectStore) Keys() []string {
	keys, _ := s.List(context.Background(), "")
	return keys
}

// Object returns the stored bytes for key.
func (s *MemoryObjectStore) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	object, ok := s.objects[applyPrefix("", key)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), object.body...), true
}
