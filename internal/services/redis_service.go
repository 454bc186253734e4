package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService provides Redis connection and operations
type RedisService struct {
	client *redis.Client
	mu     sync.RWMutex
}

var (
	redisInstance *RedisService
	redisOnce     sync.Once
)

// NewRedisService creates a new Redis service instance
func NewRedisService(redisURL string) (*RedisService, error) {
	var initErr error

	redisOnce.Do(func() {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			initErr = fmt.Errorf("failed to parse Redis URL: %w", err)
			return
		}

		// Configure connection pool
		opts.PoolSize = 10
		opts.MinIdleConns = 2
		opts.MaxRetries = 3
		opts.DialTimeout = 5 * time.Second
		opts.ReadTimeout = 3 * time.Second
		opts.WriteTimeout = 3 * time.Second

		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			initErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}

		redisInstance = &RedisService{
			client: client,
		}

		log.Println("✅ Redis connection established")
	})

	if initErr != nil {
		return nil, initErr
	}

	return redisInstance, nil
}

// Client returns the underlying Redis client
func (s *RedisService) Client() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Close shuts down the Redis connection
func (s *RedisService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
