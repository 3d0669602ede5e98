package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/hotspotpay/hotspot/app/controllers"
	"github.com/hotspotpay/hotspot/app/repository"
	"github.com/hotspotpay/hotspot/internal/pkg/cache"
	"github.com/hotspotpay/hotspot/internal/pkg/constants"
	"github.com/hotspotpay/hotspot/internal/pkg/database"
	"github.com/hotspotpay/hotspot/internal/pkg/env"
	"github.com/hotspotpay/hotspot/internal/pkg/expiry"
	"github.com/hotspotpay/hotspot/internal/pkg/logging"
	"github.com/hotspotpay/hotspot/internal/pkg/metrics/counter"
	"github.com/hotspotpay/hotspot/internal/pkg/reconcile"
	"github.com/hotspotpay/hotspot/internal/pkg/router"
)

func main() {
	app, jobs, svc := NewApplication()

	jobs.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("Shutting down...")
		jobs.Stop()
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Errorf("Shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	// let pending token SMS finish
	svc.Wait()
	if cerr := cache.GetClient().Close(); cerr != nil {
		log.Warnf("Closing Redis client: %v", cerr)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *expiry.Manager, *reconcile.Service) {
	env.SetupEnvFile()
	logging.Setup()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	svc := reconcile.NewServiceFromEnv(database.GetDB(), cache.GetClient())
	jobs := expiry.NewManager(
		expiry.NewSweeper(svc),
		svc,
		cache.GetClient(),
		time.Duration(env.GetEnvInt("SWEEP_INTERVAL_SECONDS", 60))*time.Second,
		time.Duration(env.GetEnvInt("POLL_INTERVAL_SECONDS", 60))*time.Second,
	)

	controllers.InitializeHotspotController(svc)
	controllers.InitializeAdminController(svc, jobs, counter.NewRecorder(cache.GetClient()))

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/hotspot to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	if basePath != "" {
		openAPICfg := swagger.Config{
			BasePath: constants.DocsRoute,
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}
		app.Use(swagger.New(openAPICfg))
	} else {
		log.Warn("OpenAPI document not found, /docs/api disabled")
	}

	// ROUTER
	router.InstallRouter(app)

	return app, jobs, svc
}
