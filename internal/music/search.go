package music

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	searchCacheTTL       = 5 * time.Minute
	searchCacheKeyPrefix = "encore:search:"
)

type searchCacheEntry struct {
	results   []Track
	expiresAt time.Time
}

// CachedSearcher memoizes a Searcher. Results live in a local TTL map and,
// when a Redis client is configured, in Redis so every shard shares them.
// Concurrent identical queries share one backend call.
type CachedSearcher struct {
	next   Searcher
	redis  *redislib.Client
	ttl    time.Duration
	logger *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	local map[string]searchCacheEntry
	now   func() time.Time
}

func NewCachedSearcher(next Searcher, client *redislib.Client, ttl time.Duration, logger *zap.Logger) *CachedSearcher {
	if ttl <= 0 {
		ttl = searchCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSearcher{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: logger.Named("search_cache"),
		local:  make(map[string]searchCacheEntry),
		now:    time.Now,
	}
}

func (c *CachedSearcher) Search(ctx context.Context, query string) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrMissingInput
	}

	key := cacheKey(query)
	if cached, ok := c.getLocal(key); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if cached, ok := c.getRemote(ctx, key); ok {
			c.setLocal(key, cached)
			return cached, nil
		}

		results, err := c.next.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			c.setLocal(key, results)
			c.setRemote(ctx, key, results)
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Track), nil
}

func cacheKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func (c *CachedSearcher) getLocal(key string) ([]Track, bool) {
	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.local, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.results, true
}

func (c *CachedSearcher) setLocal(key string, results []Track) {
	c.mu.Lock()
	c.local[key] = searchCacheEntry{
		results:   results,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *CachedSearcher) getRemote(ctx context.Context, key string) ([]Track, bool) {
	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, searchCacheKeyPrefix+key).Bytes()
	if err != nil {
		if err != redislib.Nil {
			c.logger.Debug("search cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var results []Track
	if err := json.Unmarshal(raw, &results); err != nil || len(results) == 0 {
		return nil, false
	}
	return results, true
}

func (c *CachedSearcher) setRemote(ctx context.Context, key string, results []Track) {
	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, searchCacheKeyPrefix+key, payload, c.ttl).Err(); err != nil {
		c.logger.Debug("search cache write failed", zap.Error(err))
	}
}
