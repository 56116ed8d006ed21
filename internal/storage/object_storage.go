package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the storage gateway used by the media pipeline. Keys are
// relative to the configured prefix.
type ObjectStore interface {
	Provider() string
	Bucket() string
	Ping(ctx context.Context) error
	Store(ctx context.Context, key string, body []byte, contentType string) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Fetch streams the whole object. The returned info carries the full size.
	Fetch(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// FetchRange streams length bytes starting at start. The returned info
	// carries the full object size, not the range length.
	FetchRange(ctx context.Context, key string, start, length int64) (io.ReadCloser, ObjectInfo, error)
	// Delete removes the object. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// PublicURL joins the public endpoint with the key, or returns "" when no
	// public endpoint is configured.
	PublicURL(key string) string
}

// Enabled reports whether the configuration names a reachable bucket.
func (cfg ObjectStorageConfig) Enabled() bool {
	return strings.TrimSpace(cfg.Bucket) != "" && strings.TrimSpace(cfg.Endpoint) != ""
}

func (cfg ObjectStorageConfig) requestTimeout() time.Duration {
	if cfg.RequestTimeout <= 0 {
		return defaultObjectStorageRequestTimeout
	}
	return cfg.RequestTimeout
}

// NewObjectStore connects to the configured S3-compatible endpoint. When
// CreateBucket is set the bucket is created if it does not exist yet.
func NewObjectStore(ctx context.Context, cfg ObjectStorageConfig) (ObjectStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object storage endpoint and bucket required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	secure := cfg.UseSSL
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse object storage endpoint: %w", err)
		}
		endpoint = parsed.Host
		if parsed.Scheme == "https" {
			secure = true
		}
	}
	if endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint has no host")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	sanitized := cfg
	sanitized.Bucket = strings.TrimSpace(cfg.Bucket)
	store := &minioObjectStore{client: client, cfg: sanitized}
	if cfg.CreateBucket {
		if err := store.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

type minioObjectStore struct {
	client *minio.Client
	cfg    ObjectStorageConfig
}

func (s *minioObjectStore) Provider() string { return "s3" }

func (s *minioObjectStore) Bucket() string { return s.cfg.Bucket }

func (s *minioObjectStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.requestTimeout())
}

func (s *minioObjectStore) ensureBucket(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *minioObjectStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.cfg.Bucket)
	}
	return nil
}

func (s *minioObjectStore) Store(ctx context.Context, key string, body []byte, contentType string) error {
	finalKey := applyPrefix(s.cfg.Prefix, key)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, finalKey, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload object %s: %w", finalKey, err)
	}
	return nil
}

func (s *minioObjectStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	finalKey := applyPrefix(s.cfg.Prefix, key)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	info, err := s.client.StatObject(ctx, s.cfg.Bucket, finalKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translateMinioError(finalKey, err)
	}
	return ObjectInfo{Key: key, Size: info.Size, ContentType: info.ContentType}, nil
}

func (s *minioObjectStore) Fetch(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	finalKey := applyPrefix(s.cfg.Prefix, key)
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, finalKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, translateMinioError(finalKey, err)
	}
	return object, info, nil
}

func (s *minioObjectStore) FetchRange(ctx context.Context, key string, start, length int64) (io.ReadCloser, ObjectInfo, error) {
	if start < 0 || length <= 0 {
		return nil, ObjectInfo{}, fmt.Errorf("invalid range start=%d length=%d", start, length)
	}
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	finalKey := applyPrefix(s.cfg.Prefix, key)
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, start+length-1); err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("set range on %s: %w", finalKey, err)
	}
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, finalKey, opts)
	if err != nil {
		return nil, ObjectInfo{}, translateMinioError(finalKey, err)
	}
	return object, info, nil
}

func (s *minioObjectStore) Delete(ctx context.Context, key string) error {
	finalKey := applyPrefix(s.cfg.Prefix, key)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, finalKey, minio.RemoveObjectOptions{})
	if err == nil {
		return nil
	}
	if errors.Is(translateMinioError(finalKey, err), ErrObjectNotFound) {
		return nil
	}
	return fmt.Errorf("delete object %s: %w", finalKey, err)
}

func (s *minioObjectStore) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	finalKey := applyPrefix(s.cfg.Prefix, key)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	presigned, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, finalKey, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", finalKey, err)
	}
	return presigned.String(), nil
}

func (s *minioObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	finalPrefix := applyPrefix(s.cfg.Prefix, prefix)
	if finalPrefix != "" && !strings.HasSuffix(finalPrefix, "/") {
		finalPrefix += "/"
	}
	keys := make([]string, 0)
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: finalPrefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", finalPrefix, object.Err)
		}
		keys = append(keys, stripPrefix(s.cfg.Prefix, object.Key))
	}
	return keys, nil
}

func (s *minioObjectStore) PublicURL(key string) string {
	return publicURL(s.cfg.PublicEndpoint, applyPrefix(s.cfg.Prefix, key))
}

func translateMinioError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("object %s: %w", key, ErrObjectNotFound)
	}
	return fmt.Errorf("object %s: %w", key, err)
}

func applyPrefix(prefix, key string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	cleanPrefix := strings.Trim(strings.TrimSpace(prefix), "/")
	if cleanPrefix == "" {
		return trimmed
	}
	if trimmed == "" {
		return cleanPrefix
	}
	if trimmed == cleanPrefix || strings.HasPrefix(trimmed, cleanPrefix+"/") {
		return trimmed
	}
	return cleanPrefix + "/" + trimmed
}

func stripPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(strings.TrimSpace(prefix), "/")
	if cleanPrefix == "" {
		return key
	}
	return strings.TrimPrefix(key, cleanPrefix+"/")
}

func publicURL(base, key string) string {
	trimmedBase := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmedBase == "" {
		return ""
	}
	trimmedKey := strings.TrimLeft(key, "/")
	if trimmedKey == "" {
		return trimmedBase
	}
	return trimmedBase + "/" + trimmedKey
}
