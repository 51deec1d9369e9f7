package router

import (
	apiv1 "github.com/ManuelReschke/GhostRelay/internal/api/v1"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/env"

	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, server *apiv1.APIServer, storage fiber.Storage) {
	setup(app, NewApiRouter(
		server,
		env.GetEnv("ADMIN_API_KEY_HASH", ""),
		env.GetInt("API_RATE_LIMIT", 60),
		storage,
	))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
