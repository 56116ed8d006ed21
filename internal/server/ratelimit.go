package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"learnhub-media/internal/api"
	"learnhub-media/internal/observability/logging"
)

type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	// UploadLimit caps ingest and register calls per client within
	// UploadWindow. Zero disables the per-client limit.
	UploadLimit  int
	UploadWindow time.Duration
	// Redis shares upload counters across replicas when set.
	Redis        redis.UniversalClient
	RedisTimeout time.Duration
}

type rateLimiter struct {
	global        *tokenBucket
	uploadLimit   int
	uploadWindow  time.Duration
	uploadMu      sync.Mutex
	uploadBuckets map[string]*ipLimiter
	store         tokenStore
	storeTimeout  time.Duration
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		uploadLimit:   cfg.UploadLimit,
		uploadWindow:  cfg.UploadWindow,
		uploadBuckets: make(map[string]*ipLimiter),
		storeTimeout:  cfg.RedisTimeout,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.uploadLimit < 0 {
		rl.uploadLimit = 0
	}
	if rl.uploadWindow <= 0 {
		rl.uploadWindow = time.Minute
	}
	if rl.storeTimeout <= 0 {
		rl.storeTimeout = 2 * time.Second
	}
	if cfg.Redis != nil && rl.uploadLimit > 0 {
		rl.store = newRedisStore(cfg.Redis)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowUpload(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.uploadLimit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
		defer cancel()
		return r.store.Allow(ctx, fmt.Sprintf("learnhub-media:upload:%s", key), r.uploadLimit, r.uploadWindow)
	}
	r.uploadMu.Lock()
	limiter, exists := r.uploadBuckets[key]
	if !exists {
		rate := float64(r.uploadLimit) / r.uploadWindow.Seconds()
		limiter = &ipLimiter{bucket: newTokenBucket(rate, r.uploadLimit)}
		r.uploadBuckets[key] = limiter
	}
	limiter.lastSeen = time.Now()
	r.cleanupLocked()
	r.uploadMu.Unlock()

	if limiter.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	cutoff := time.Now().Add(-2 * r.uploadWindow)
	for key, limiter := range r.uploadBuckets {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.uploadBuckets, key)
		}
	}
}

func isUploadRequest(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	return path == mediaPrefix+"videos" || path == mediaPrefix+"uploads"
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			api.WriteError(w, http.StatusTooManyRequests, fmt.Errorf("global rate limit exceeded"))
			return
		}
		if isUploadRequest(r) {
			allowed, retryAfter, err := rl.AllowUpload(r.Context(), extractClientIP(r))
			if err != nil {
				logging.FromContext(r.Context(), logger).Error("rate limiter failure", "error", err)
				api.WriteError(w, http.StatusServiceUnavailable, fmt.Errorf("rate limit failure"))
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				api.WriteError(w, http.StatusTooManyRequests, fmt.Errorf("too many uploads"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	tb.tokens += now.Sub(tb.lastCheck).Seconds() * tb.rate
	tb.lastCheck = now
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
