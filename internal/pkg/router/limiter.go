package router

import (
	"net"
	"strconv"
	"time"

	"github.com/ManuelReschke/SubLedger/internal/pkg/cache"
	"github.com/ManuelReschke/SubLedger/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
)

// LimiterConfigFromEnv builds the webhook rate limit from RATE_LIMIT_MAX,
// RATE_LIMIT_WINDOW and RATE_LIMIT_STORAGE ("memory" or "redis").
func LimiterConfigFromEnv() limiter.Config {
	cfg := limiter.Config{
		Max:        env.GetEnvInt("RATE_LIMIT_MAX", 600),
		Expiration: env.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests", "should_retry": true})
		},
	}
	if env.GetEnv("RATE_LIMIT_STORAGE", "memory") == "redis" && cache.Enabled() {
		cfg.Storage = redisLimiterStorage()
		log.Info("[Router] Rate limiter uses redis storage")
	}
	return cfg
}

// redisLimiterStorage shares the cache server but keeps counters in
// database 2 (cache uses DB 0).
func redisLimiterStorage() *redis.Storage {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")

	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: env.GetEnvInt("RATE_LIMIT_REDIS_DB", 2),
		Reset:    false,
	})
}
