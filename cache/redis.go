package cache

import (
	"context"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	initOnce    sync.Once
)

// InitRedis connects the package-level client from REDIS_ADDR,
// REDIS_PASSWORD and REDIS_DB. A failed connection is not fatal: callers
// degrade to their local fallbacks and the service keeps running on one
// instance.
func InitRedis() {
	initOnce.Do(func() {
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}

		db := 0
		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			if parsed, err := strconv.Atoi(dbStr); err == nil {
				db = parsed
			}
		}

		client := redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          db,
			DialTimeout: 3 * time.Second,
			ReadTimeout: 3 * time.Second,
			PoolSize:    10,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable at %s, running without it: %v", addr, err)
			client.Close()
			return
		}

		redisClient = client
		log.Printf("redis connected: %s", addr)
	})
}

// SetClient swaps in a client directly, bypassing InitRedis. Used by tests.
func SetClient(client *redis.Client) {
	initOnce.Do(func() {})
	redisClient = client
}

// GetClient returns the shared client, or ErrRedisNotAvailable.
func GetClient() (*redis.Client, error) {
	if redisClient == nil {
		return nil, ErrRedisNotAvailable
	}
	return redisClient, nil
}

// Available reports whether a Redis connection was established.
func Available() bool { return redisClient != nil }

// CloseRedis closes the shared client if one is connected.
func CloseRedis() {
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("closing redis: %v", err)
		}
		redisClient = nil
	}
}
