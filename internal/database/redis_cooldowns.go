package database

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"trading-decision-engine/internal/guard"
	"trading-decision-engine/internal/logging"
)

const (
	// CooldownKeyPrefix is the prefix for last-trade keys.
	// Format: tde:cooldown:{assetID}
	CooldownKeyPrefix = "tde:cooldown"

	// CooldownTTL outlives the longest cooldown window by a wide margin
	CooldownTTL = 48 * time.Hour
)

// RedisCooldownStore keeps last-trade times in Redis so several engine
// instances share cooldowns. While Redis is unreachable it serves and
// records stamps in memory, and pushes them back once Redis recovers.
type RedisCooldownStore struct {
	client         redis.UniversalClient
	cache          *guard.MemoryCooldowns
	redisAvailable atomic.Bool
	logger         *logging.Logger
}

// NewRedisCooldownStore creates the store. A nil client runs memory-only.
func NewRedisCooldownStore(ctx context.Context, client redis.UniversalClient) *RedisCooldownStore {
	s := &RedisCooldownStore{
		client: client,
		cache:  guard.NewMemoryCooldowns(),
		logger: logging.WithComponent("redis-cooldowns"),
	}
	if client == nil {
		s.logger.Info("No Redis client provided, using in-memory cooldowns only")
		return s
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Warn("Redis unavailable at startup, using in-memory cooldowns", "error", err)
		return s
	}
	s.redisAvailable.Store(true)
	return s
}

func cooldownKey(assetID string) string {
	return fmt.Sprintf("%s:%s", CooldownKeyPrefix, assetID)
}

func (s *RedisCooldownStore) LastTrade(ctx context.Context, assetID string) (time.Time, bool, error) {
	if s.client == nil || !s.redisAvailable.Load() {
		return s.cache.LastTrade(ctx, assetID)
	}

	raw, err := s.client.Get(ctx, cooldownKey(assetID)).Result()
	if errors.Is(err, redis.Nil) {
		return s.cache.LastTrade(ctx, assetID)
	}
	if err != nil {
		s.markUnavailable("read", err)
		return s.cache.LastTrade(ctx, assetID)
	}

	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cooldown for %s: %w", assetID, err)
	}
	_ = s.cache.SetLastTrade(ctx, assetID, at)
	return at, true, nil
}

func (s *RedisCooldownStore) SetLastTrade(ctx context.Context, assetID string, at time.Time) error {
	_ = s.cache.SetLastTrade(ctx, assetID, at)
	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}
	if err := s.client.Set(ctx, cooldownKey(assetID), at.UTC().Format(time.RFC3339Nano), CooldownTTL).Err(); err != nil {
		s.markUnavailable("write", err)
	}
	return nil
}

func (s *RedisCooldownStore) ClearLastTrade(ctx context.Context, assetID string) error {
	_ = s.cache.ClearLastTrade(ctx, assetID)
	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}
	if err := s.client.Del(ctx, cooldownKey(assetID)).Err(); err != nil {
		s.markUnavailable("delete", err)
	}
	return nil
}

func (s *RedisCooldownStore) markUnavailable(op string, err error) {
	if s.redisAvailable.Swap(false) {
		s.logger.Warn("Redis cooldown "+op+" failed, falling back to memory", "error", err)
	}
}

// IsRedisAvailable reports whether reads and writes currently reach Redis
func (s *RedisCooldownStore) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}

// CheckRedisConnection pings Redis and, on recovery, syncs the memory
// stamps back so other instances see them.
func (s *RedisCooldownStore) CheckRedisConnection(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("no Redis client configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.redisAvailable.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if !s.redisAvailable.Swap(true) {
		s.logger.Info("Redis connection recovered")
		return s.SyncCacheToRedis(ctx)
	}
	return nil
}

// SyncCacheToRedis writes every in-memory stamp to Redis
func (s *RedisCooldownStore) SyncCacheToRedis(ctx context.Context) error {
	if s.client == nil || !s.redisAvailable.Load() {
		return fmt.Errorf("redis not available for sync")
	}
	stamps := s.cache.Snapshot()
	if len(stamps) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for assetID, at := range stamps {
		pipe.Set(ctx, cooldownKey(assetID), at.UTC().Format(time.RFC3339Nano), CooldownTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.markUnavailable("sync", err)
		return fmt.Errorf("failed to sync cooldowns: %w", err)
	}
	s.logger.Info("Synced cooldowns to Redis", "count", len(stamps))
	return nil
}

// CooldownStoreStats reports the store's state
type CooldownStoreStats struct {
	RedisAvailable    bool `json:"redis_available"`
	InMemoryCacheSize int  `json:"in_memory_cache_size"`
}

func (s *RedisCooldownStore) GetStats() CooldownStoreStats {
	return CooldownStoreStats{
		RedisAvailable:    s.redisAvailable.Load(),
		InMemoryCacheSize: len(s.cache.Snapshot()),
	}
}
