package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/hotspotpay/hotspot/app/controllers"
	apiv1 "github.com/hotspotpay/hotspot/internal/api/v1"
	"github.com/hotspotpay/hotspot/internal/pkg/cache"
	"github.com/hotspotpay/hotspot/internal/pkg/constants"
	"github.com/hotspotpay/hotspot/internal/pkg/env"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiterConfig()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(controllers.GetHotspotController())
	apiv1.RegisterHandlers(v1, apiServer)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

// limiterConfig shares the request counters across instances through Redis
// when RATE_LIMIT_REDIS is enabled; otherwise each process counts on its own.
func limiterConfig() limiter.Config {
	cfg := limiter.Config{
		Max:        env.GetEnvInt("RATE_LIMIT_MAX", 60),
		Expiration: env.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	}
	if env.GetEnvBool("RATE_LIMIT_REDIS", true) {
		cfg.Storage = limiterStorage()
	}
	return cfg
}

func limiterStorage() fiber.Storage {
	opts := cache.Options()
	host, portStr := env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Warnf("[API] CACHE_PORT=%q is invalid, using in-memory rate limiting", portStr)
		return nil
	}
	log.Infof("[API] Rate limiter backed by Redis at %s", opts.Addr)
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: opts.DB,
	})
}
