package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
	// KeyPrefix namespaces the cache keys, e.g. "queueclient:cert:".
	KeyPrefix string
}

// RedisClient is the subset of *redis.Client used by RedisCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisCache is a shared cache layer. Values are stored as JSON under
// KeyPrefix+key. When Redis is unreachable, reads fall through to the fallback.
type RedisCache[K comparable, V any] struct {
	client    RedisClient
	ttl       time.Duration
	keyPrefix string
	fallback  Fetcher[K, V]
	logger    zerolog.Logger
}

// NewRedisCache connects to cfg.Addr and pings it before returning.
func NewRedisCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	fallback Fetcher[K, V],
	logger zerolog.Logger,
) (*RedisCache[K, V], error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Connected to Redis.")
	return NewRedisCacheFromClient[K, V](rdb, cfg, fallback, logger), nil
}

// NewRedisCacheFromClient creates a RedisCache around an existing client, which
// the cache then owns.
func NewRedisCacheFromClient[K comparable, V any](
	client RedisClient,
	cfg *RedisConfig,
	fallback Fetcher[K, V],
	logger zerolog.Logger,
) *RedisCache[K, V] {
	return &RedisCache[K, V]{
		client:    client,
		ttl:       cfg.CacheTTL,
		keyPrefix: cfg.KeyPrefix,
		fallback:  fallback,
		logger:    logger.With().Str("component", "RedisCache").Logger(),
	}
}

// Fetch reads key from Redis, loading and storing it from the fallback on a miss.
// A failed write back is logged and does not fail the fetch.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	redisKey := c.redisKey(key)

	cached, err := c.client.Get(ctx, redisKey).Bytes()
	switch {
	case err == nil:
		var value V
		jsonErr := json.Unmarshal(cached, &value)
		if jsonErr == nil {
			return value, nil
		}
		c.logger.Warn().Err(jsonErr).Str("key", redisKey).Msg("Discarding undecodable cache entry.")
	case errors.Is(err, redis.Nil):
	default:
		if c.fallback == nil {
			return zero, fmt.Errorf("redis get %s: %w", redisKey, err)
		}
		c.logger.Warn().Err(err).Str("key", redisKey).Msg("Redis read failed, using fallback.")
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("%w: %v", ErrMiss, key)
	}
	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	if err := c.Store(ctx, key, value); err != nil {
		c.logger.Warn().Err(err).Str("key", redisKey).Msg("Failed to write fetched value to Redis.")
	}
	return value, nil
}

// Store writes value with the configured TTL.
func (c *RedisCache[K, V]) Store(ctx context.Context, key K, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate deletes key from Redis.
func (c *RedisCache[K, V]) Invalidate(ctx context.Context, key K) error {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *RedisCache[K, V]) redisKey(key K) string {
	return fmt.Sprintf("%s%v", c.keyPrefix, key)
}

// Close closes the Redis client and the fallback.
func (c *RedisCache[K, V]) Close() error {
	var errs []error
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	if c.fallback != nil {
		errs = append(errs, c.fallback.Close())
	}
	return errors.Join(errs...)
}
