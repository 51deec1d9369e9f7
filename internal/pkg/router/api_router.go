package router

import (
	"time"

	apiv1 "github.com/ManuelReschke/GhostRelay/internal/api/v1"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	server       *apiv1.APIServer
	adminKeyHash string
	rateLimit    int
	storage      fiber.Storage
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        h.rateLimit,
		Expiration: time.Minute,
		Storage:    h.storage,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Get("/ping", h.server.GetPing)

	runtime := v1.Group("/runtime", middleware.AdminKeyMiddleware(h.adminKeyHash))
	apiv1.RegisterHandlers(runtime, h.server)
}

// NewApiRouter creates the API router. A nil storage keeps limiter state in
// memory.
func NewApiRouter(server *apiv1.APIServer, adminKeyHash string, rateLimit int, storage fiber.Storage) *ApiRouter {
	if rateLimit <= 0 {
		rateLimit = 60
	}
	return &ApiRouter{
		server:       server,
		adminKeyHash: adminKeyHash,
		rateLimit:    rateLimit,
		storage:      storage,
	}
}
