package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trustapp/trust-go-api/internal/config"
	"github.com/trustapp/trust-go-api/internal/handler"
	"github.com/trustapp/trust-go-api/internal/middleware"
	"github.com/trustapp/trust-go-api/internal/observability"
	"github.com/trustapp/trust-go-api/internal/store"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	UserHandler    *handler.UserHandler
	SessionHandler *handler.SessionHandler
	CallHandler    *handler.CallHandler
	StoreMode      store.Mode
	JWTMiddleware  fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.StoreMode))
	api.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.UserHandler != nil {
		users := api.Group("/users")
		deps.UserHandler.Register(users)
	}

	if deps.SessionHandler != nil {
		sessions := api.Group("/sessions", jwtMiddleware,
			middleware.RateLimit("sessions", 60, time.Minute))
		deps.SessionHandler.Register(sessions)
	}

	if deps.CallHandler != nil {
		calls := api.Group("/calls")
		deps.CallHandler.Register(calls)
	}
}
