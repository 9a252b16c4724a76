package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gptstore-api/internal/config"
	"github.com/noah-isme/gptstore-api/internal/handler"
	"github.com/noah-isme/gptstore-api/internal/middleware"
	"github.com/noah-isme/gptstore-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler    *handler.SubmissionHandler
	ValidationHandler    *handler.ValidationHandler
	AdminActivityHandler *handler.AdminActivityHandler
	JWTMiddleware        fiber.Handler
	HealthProbes         []handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.SubmissionHandler != nil {
		submissions := app.Group("/api/v2/submissions", jwtMiddleware)
		deps.SubmissionHandler.Register(submissions)
	}

	if deps.ValidationHandler != nil {
		validations := app.Group("/api/v2/validations", jwtMiddleware)
		deps.ValidationHandler.Register(validations)
	}

	if deps.AdminActivityHandler != nil {
		admin := app.Group("/api/admin", jwtMiddleware, middleware.RequireRole(middleware.AuthRoleAdmin, "reviewer"))
		deps.AdminActivityHandler.Register(admin.Group("/activities"))
	}
}
