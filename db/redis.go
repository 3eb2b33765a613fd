package db

import (
	"context"
	"fmt"
	"time"

	"StepFM/config"

	"github.com/go-redis/redis/v8"
)

// RedisClient is the global Redis client.
var RedisClient *redis.Client

// ConnectRedis initializes the Redis connection.
func ConnectRedis(cfg *config.Config) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return nil
}

// CloseRedis closes the Redis connection.
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// TestRedis verifies the connection with a round-trip set/get/del.
func TestRedis() error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	ctx := context.Background()

	if err := RedisClient.Set(ctx, "stepfm:test_key", "ok", 5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}

	val, err := RedisClient.Get(ctx, "stepfm:test_key").Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != "ok" {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}

	return RedisClient.Del(ctx, "stepfm:test_key").Err()
}
