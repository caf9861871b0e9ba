package utils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/buildgrid/platform/shared/models"
)

var (
	RedisClient *redis.Client
	ctx         = context.Background()
)

// InitRedis initializes the Redis client
func InitRedis() error {
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "localhost"
	}

	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}

	addr := fmt.Sprintf("%s:%s", redisHost, redisPort)

	RedisClient = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return nil
}

// CacheSet stores a value in Redis with expiration
func CacheSet(key string, value string, expiration time.Duration) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return RedisClient.Set(ctx, key, value, expiration).Err()
}

// CacheGet retrieves a value from Redis
func CacheGet(key string) (string, error) {
	if RedisClient == nil {
		return "", fmt.Errorf("Redis client not initialized")
	}
	val, err := RedisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key not found")
	}
	return val, err
}

// CacheDelete removes a key from Redis
func CacheDelete(key string) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return RedisClient.Del(ctx, key).Err()
}

// CloseRedis closes the Redis client connection
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// TokenCacheKey builds the claims-cache key for a bearer token. Only the
// hash goes to Redis, never the token itself.
func TokenCacheKey(token string) string {
	hash := sha256.Sum256([]byte(token))
	return "token:claims:" + hex.EncodeToString(hash[:])
}

// CacheTenantContext stores a resolved tenant context keyed by token hash.
// Impersonation tokens are never cached: their sessions are revocable and a
// cached context would outlive a revocation.
func CacheTenantContext(token string, tc *models.TenantContext, ttl time.Duration) error {
	data, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant context: %w", err)
	}
	return CacheSet(TokenCacheKey(token), string(data), ttl)
}

// GetCachedTenantContext looks up a previously resolved tenant context.
func GetCachedTenantContext(token string) (*models.TenantContext, error) {
	data, err := CacheGet(TokenCacheKey(token))
	if err != nil {
		return nil, err
	}
	var tc models.TenantContext
	if err := json.Unmarshal([]byte(data), &tc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tenant context: %w", err)
	}
	return &tc, nil
}
