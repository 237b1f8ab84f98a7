package web

import (
	"github.com/dukex/conduit/pkg/metrics"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp mounts the handlers on a fiber app. Budget limit routes are only
// registered when the handlers carry a budget guard.
func NewApp(handlers *APIHandlers, m *metrics.Metrics) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", handlers.HealthCheck)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	e := app.Group("/executions")
	e.Post("/", handlers.StartExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Delete("/:id", handlers.PurgeExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Get("/:id/context", handlers.GetExecutionContext)
	e.Post("/:id/nodes/:nodeId/approval", handlers.SubmitApproval)

	if handlers.guard != nil {
		u := app.Group("/users")
		u.Get("/:userId/budget", handlers.GetBudget)
		u.Put("/:userId/budget", handlers.SetBudget)
	}

	app.Post("/budget/projection", handlers.ProjectBudget)

	return app
}
