package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DictionaryCache handles Redis-based caching of per-conversation privacy
// dictionaries, sitting in front of the conversation store.
type DictionaryCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   int64
	misses int64
}

// New creates a new Redis-based dictionary cache
func New(config *Config, logger *zap.Logger) (*DictionaryCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	cache := &DictionaryCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Dictionary cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// ping tests the Redis connection
func (dc *DictionaryCache) ping(ctx context.Context) error {
	_, err := dc.client.Ping(ctx).Result()
	return err
}

// Get returns the cached dictionary JSON for a conversation. A miss or a
// Redis error both report not-found; the caller falls through to the store.
func (dc *DictionaryCache) Get(ctx context.Context, conversationID string) (string, bool) {
	key := dc.dictKey(conversationID)

	raw, err := dc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&dc.stats.misses, 1)
		dc.logger.Debug("Cache miss", zap.String("key", key))
		return "", false
	} else if err != nil {
		atomic.AddInt64(&dc.stats.misses, 1)
		dc.logger.Error("Cache lookup failed", zap.Error(err))
		return "", false
	}

	atomic.AddInt64(&dc.stats.hits, 1)
	dc.logger.Debug("Cache hit", zap.String("key", key))
	return raw, true
}

// Set stores a conversation's dictionary JSON with the configured TTL.
func (dc *DictionaryCache) Set(ctx context.Context, conversationID, dictJSON string) error {
	key := dc.dictKey(conversationID)

	if err := dc.client.Set(ctx, key, dictJSON, dc.config.DefaultTTL).Err(); err != nil {
		dc.logger.Error("Failed to cache dictionary", zap.Error(err))
		return fmt.Errorf("failed to cache dictionary: %w", err)
	}

	dc.logger.Debug("Dictionary cached",
		zap.String("key", key),
		zap.Int("bytes", len(dictJSON)))

	return nil
}

// Invalidate drops a conversation's cached dictionary after a write.
func (dc *DictionaryCache) Invalidate(ctx context.Context, conversationID string) error {
	if err := dc.client.Del(ctx, dc.dictKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics
func (dc *DictionaryCache) GetStats(ctx context.Context) (*Stats, error) {
	info, err := dc.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   atomic.LoadInt64(&dc.stats.hits),
		Misses: atomic.LoadInt64(&dc.stats.misses),
	}

	// Calculate hit rate
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	// Parse memory usage from Redis info
	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	// Get total keys count
	keys, err := dc.client.DBSize(ctx).Result()
	if err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached dictionaries
func (dc *DictionaryCache) Clear(ctx context.Context) error {
	pattern := dc.config.KeyPrefix + ":dict:*"

	// Use SCAN to find all keys with our prefix
	iter := dc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := dc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			dc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	dc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (dc *DictionaryCache) Close() error {
	if dc.client != nil {
		return dc.client.Close()
	}
	return nil
}

// dictKey creates a cache key from a conversation ID. IDs are caller-chosen
// and may contain characters Redis tooling dislikes, so they are hashed.
func (dc *DictionaryCache) dictKey(conversationID string) string {
	sum := sha256.Sum256([]byte(conversationID))
	return fmt.Sprintf("%s:dict:%s", dc.config.KeyPrefix, hex.EncodeToString(sum[:])[:16])
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
