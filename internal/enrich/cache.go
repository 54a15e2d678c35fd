package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedPlace is the unit stored in the place cache: the finished result of
// one category lookup for one location.
type cachedPlace struct {
	NearestName    string   `json:"nearest_name"`
	WalkingMinutes *float64 `json:"walking_minutes,omitempty"`
	TransitMinutes *float64 `json:"transit_minutes,omitempty"`
}

// PlaceCache deduplicates place lookups across listings and runs. Listings
// in the same building share nearby places, so the key rounds coordinates
// to four decimals (roughly 11 meters).
type PlaceCache interface {
	Get(ctx context.Context, key string) (*cachedPlace, bool)
	Set(ctx context.Context, key string, value *cachedPlace)
}

// placeCacheKey builds the cache key for one lookup.
func placeCacheKey(lat, lng float64, category string, radiusMeters int) string {
	raw := fmt.Sprintf("%.4f:%.4f:%s:%d", lat, lng, category, radiusMeters)
	sum := sha256.Sum256([]byte(raw))
	return "finnscout:place:" + hex.EncodeToString(sum[:])
}

// memoryCache is the default per-process cache.
type memoryCache struct {
	mu sync.RWMutex
	m  map[string]*cachedPlace
}

// NewMemoryCache returns an in-process PlaceCache.
func NewMemoryCache() PlaceCache {
	return &memoryCache{m: make(map[string]*cachedPlace)}
}

func (c *memoryCache) Get(_ context.Context, key string) (*cachedPlace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *memoryCache) Set(_ context.Context, key string, value *cachedPlace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

// redisCache shares place results across runs and machines. Cache failures
// degrade to a miss; the cache must never take the pipeline down.
type redisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisCache connects to redisURL (redis://host:port/db). logger may be
// nil.
func NewRedisCache(redisURL string, logger *slog.Logger) (PlaceCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &redisCache{
		rdb: redis.NewClient(opts),
		ttl: 7 * 24 * time.Hour,
		log: logger,
	}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (*cachedPlace, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("place cache read failed", "error", err)
		}
		return nil, false
	}
	var v cachedPlace
	if err := json.Unmarshal(data, &v); err != nil {
		c.log.Warn("discarding corrupt place cache entry", "key", key, "error", err)
		return nil, false
	}
	return &v, true
}

func (c *redisCache) Set(ctx context.Context, key string, value *cachedPlace) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("place cache write failed", "error", err)
	}
}
