package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

// CacheRepository keeps JSON documents in Redis under a shared key prefix.
// A nil client is a cache that never hits.
type CacheRepository struct {
	client *redis.Client
	prefix string
}

// NewCacheRepository namespaces every key with prefix, e.g. "kcea:".
func NewCacheRepository(client *redis.Client, prefix string) *CacheRepository {
	return &CacheRepository{client: client, prefix: prefix}
}

func (r *CacheRepository) key(k string) string { return r.prefix + k }

func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return appErrors.ErrCacheMiss
	case err != nil:
		return fmt.Errorf("cache read %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A document written by an older release is treated as absent.
		return fmt.Errorf("cache decode %q: %w", key, appErrors.ErrCacheMiss)
	}
	return nil
}

func (r *CacheRepository) genKey(k string) string { return r.prefix + "gen:" + k }

// Generation returns how many times key has been invalidated. Unknown keys are at zero.
func (r *CacheRepository) Generation(ctx context.Context, key string) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	gen, err := r.client.Get(ctx, r.genKey(key)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("cache generation %q: %w", key, err)
	}
	return gen, nil
}

// setIfGeneration compares and writes in one step so an invalidation cannot
// slip between the check and the SET.
var setIfGeneration = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if current ~= tonumber(ARGV[1]) then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// SetIfGeneration stores value only while the generation of key still equals gen.
func (r *CacheRepository) SetIfGeneration(ctx context.Context, key string, gen int64, value interface{}, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	doc, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache encode %q: %w", key, err)
	}
	stored, err := setIfGeneration.Run(ctx, r.client, []string{r.key(key), r.genKey(key)}, gen, doc, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache write %q: %w", key, err)
	}
	return stored == 1, nil
}

// Delete drops keys and advances their generations; missing keys are ignored.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, r.genKey(k))
			pipe.Del(ctx, r.key(k))
		}
		return nil
	})
	return err
}

// Ping reports Redis reachability for the readiness probe.
func (r *CacheRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}
