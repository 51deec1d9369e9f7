package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/GhostRelay/app/repository"
	apiv1 "github.com/ManuelReschke/GhostRelay/internal/api/v1"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/botmanager"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/cache"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/database"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/engine"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/env"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/ghost"
	metrics "github.com/ManuelReschke/GhostRelay/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/middleware"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/router"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/security"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram"
)

func main() {
	app, runtime := NewApplication()
	runtime.StartLoop()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Server] %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("[Server] Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), env.GetDuration("SHUTDOWN_TIMEOUT", 30*time.Second))
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("[Server] HTTP shutdown: %v", err)
	}
	if err := runtime.Shutdown(ctx); err != nil {
		log.Errorf("[Server] Runtime shutdown: %v", err)
	}
}

func NewApplication() (*fiber.App, *botmanager.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	sealer, err := security.NewAgeSealer(env.GetEnv("CREDENTIAL_AGE_IDENTITY", ""))
	if err != nil {
		log.Fatalf("[Server] Credential identity: %v", err)
	}

	store := repository.GetGlobalFactory().GetRuntimeStore()
	activity := metrics.NewActivityCounter(cache.GetClient())

	runtime := botmanager.New(store, ghost.Deps{
		Provider: telegram.NewHTTPProvider(
			env.GetEnv("TELEGRAM_BASE_URL", telegram.DefaultBaseURL),
			env.GetDuration("TELEGRAM_POLL_TIMEOUT", 30*time.Second),
		),
		Decryptor: sealer,
		Engine: engine.New(engine.Config{
			MatchThreshold: env.GetFloat("ENGINE_MATCH_THRESHOLD", 0.3),
			MinOccurrence:  int64(env.GetInt("ENGINE_MIN_OCCURRENCE", 5)),
		}),
		Activity:     activity,
		ComposeDelay: env.GetDuration("GHOST_COMPOSE_DELAY", ghost.DefaultComposeDelay),
	}, activity, botmanager.Config{
		ReconcileInterval:    env.GetDuration("RUNTIME_RECONCILE_INTERVAL", time.Minute),
		CounterFlushInterval: env.GetDuration("RUNTIME_COUNTER_FLUSH_INTERVAL", 5*time.Second),
		RetrainHistory:       env.GetInt("RUNTIME_RETRAIN_HISTORY", 1000),
	})

	app := fiber.New(fiber.Config{
		AppName:   "GhostRelay",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	adminKey := middleware.AdminKeyMiddleware(env.GetEnv("ADMIN_API_KEY_HASH", ""))
	app.Get("/metrics", adminKey, monitor.New())

	// SWAGGER / OPENAPI
	if basePath, ok := findBasePath(); ok {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("[Server] public/docs not found, API docs disabled")
	}

	// ROUTER
	router.InstallRouter(app, apiv1.NewAPIServer(runtime, store), cache.NewStorage(env.GetInt("LIMITER_CACHE_DB", 2)))

	return app, runtime
}

// findBasePath locates the project root from the usual working directories.
func findBasePath() (string, bool) {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/ghostrelay to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			return path, true
		}
	}
	return "", false
}
