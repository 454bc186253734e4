package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int           // Max requests per minute for all API endpoints
	GlobalAPIExpiration time.Duration // Expiration window

	// Public endpoint limits (per IP) - read-only, cacheable
	PublicReadMax        int
	PublicReadExpiration time.Duration

	// Dispatch limits (per user/IP) - expensive provider calls
	DispatchMax        int
	DispatchExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min = ~3.3 req/sec - very generous for normal use
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		// Public read endpoints: 120/min = 2 req/sec
		PublicReadMax:        120,
		PublicReadExpiration: 1 * time.Minute,

		// Dispatches: 20/min (each one is a paid provider call)
		DispatchMax:        20,
		DispatchExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_PUBLIC_READ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.PublicReadMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_DISPATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.DispatchMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		config.DispatchMax = 200
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
// This is the first line of defense against DDoS
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// PublicReadRateLimiter for public read-only endpoints
func PublicReadRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.PublicReadMax,
		Expiration: config.PublicReadExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "public:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.PublicReadExpiration.Seconds()),
			})
		},
	})
}

// DispatchRateLimiter for conversation dispatches (expensive provider calls).
// Keys by user ID when authenticated, falling back to IP.
func DispatchRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.DispatchMax,
		Expiration: config.DispatchExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
				return "dispatch:" + userID
			}
			return "dispatch:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Dispatch limit reached for %v", c.Locals("user_id"))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many dispatches. Please wait before sending more messages.",
				"retry_after": int(config.DispatchExpiration.Seconds()),
			})
		},
	})
}
