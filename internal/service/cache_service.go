package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

// CacheRepository stores cached payloads. Every key carries a generation
// counter that Delete advances, so a fill computed before an invalidation
// can be refused.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Generation(ctx context.Context, key string) (int64, error)
	SetIfGeneration(ctx context.Context, key string, gen int64, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// CacheService wraps the cache with metrics. Failures degrade to misses.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Lookup reads key. On a miss it returns the generation to hand to Fill once
// the value has been computed; fillable is false when the result must not be cached.
func (s *CacheService) Lookup(ctx context.Context, key string, dest interface{}) (hit bool, gen int64, fillable bool) {
	if !s.Enabled() {
		return false, 0, false
	}
	// The generation is read first: an invalidation landing after this point
	// makes the later Fill a no-op.
	gen, err := s.repo.Generation(ctx, key)
	if err != nil {
		s.logger.Warn("cache generation read failed", zap.String("key", key), zap.Error(err))
		return false, 0, false
	}
	start := time.Now()
	err = s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil, gen, true
}

// Fill stores value unless key was invalidated after gen was read.
func (s *CacheService) Fill(ctx context.Context, key string, gen int64, value interface{}, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	stored, err := s.repo.SetIfGeneration(ctx, key, gen, value, ttl)
	switch {
	case err != nil:
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	case !stored:
		s.logger.Debug("cache fill skipped after invalidation", zap.String("key", key))
	}
}

// Invalidate removes the given keys and advances their generations.
func (s *CacheService) Invalidate(ctx context.Context, keys ...string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
