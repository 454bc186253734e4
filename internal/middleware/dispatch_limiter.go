package middleware

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxDispatchesPerDay caps how many provider dispatches a single user
// can trigger per UTC day. -1 disables the cap.
const DefaultMaxDispatchesPerDay int64 = 500

// DispatchLimiter enforces daily dispatch quotas backed by Redis counters
type DispatchLimiter struct {
	redis     *redis.Client
	maxPerDay int64
}

// NewDispatchLimiter creates a new dispatch limiter middleware
func NewDispatchLimiter(redisClient *redis.Client) *DispatchLimiter {
	maxPerDay := DefaultMaxDispatchesPerDay
	if v := os.Getenv("DISPATCH_DAILY_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			maxPerDay = n
		}
	}

	return &DispatchLimiter{
		redis:     redisClient,
		maxPerDay: maxPerDay,
	}
}

// CheckLimit verifies if the user can trigger another dispatch today
func (dl *DispatchLimiter) CheckLimit(c *fiber.Ctx) error {
	// Redis not available or cap disabled: allow
	if dl.redis == nil || dl.maxPerDay == -1 {
		return c.Next()
	}

	userID := c.Locals("user_id")
	if userID == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	userIDStr, ok := userID.(string)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Invalid user ID",
		})
	}

	ctx := context.Background()

	// Get today's dispatch count from Redis
	today := time.Now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("dispatches:%s:%s", userIDStr, today)

	count, err := dl.redis.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		log.Printf("⚠️  Failed to get dispatch count from Redis: %v", err)
		// On Redis error, allow the dispatch but log warning
		return c.Next()
	}

	if count >= dl.maxPerDay {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":    "Daily dispatch limit exceeded",
			"limit":    dl.maxPerDay,
			"used":     count,
			"reset_at": getNextMidnightUTC(),
		})
	}

	return c.Next()
}

// IncrementCount increments the dispatch counter after a successful dispatch
func (dl *DispatchLimiter) IncrementCount(userID string) error {
	if dl.redis == nil {
		return nil // Redis not available, skip increment
	}

	ctx := context.Background()
	today := time.Now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("dispatches:%s:%s", userID, today)

	pipe := dl.redis.Pipeline()
	pipe.Incr(ctx, key)

	// Set expiry to end of day + 1 day (to allow historical querying)
	midnight := getNextMidnightUTC()
	expiryDuration := time.Until(midnight) + 24*time.Hour
	pipe.Expire(ctx, key, expiryDuration)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to increment dispatch count: %v", err)
		return err
	}

	return nil
}

// GetRemaining returns how many dispatches the user has left today
func (dl *DispatchLimiter) GetRemaining(userID string) (int64, error) {
	if dl.redis == nil || dl.maxPerDay == -1 {
		return -1, nil // No cap in effect
	}

	ctx := context.Background()
	today := time.Now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("dispatches:%s:%s", userID, today)

	count, err := dl.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return dl.maxPerDay, nil // No dispatches today
	}
	if err != nil {
		return -1, err
	}

	remaining := dl.maxPerDay - count
	if remaining < 0 {
		return 0, nil
	}

	return remaining, nil
}

// getNextMidnightUTC returns the next UTC midnight timestamp
func getNextMidnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
