// Package main provides the Quiver API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/quiverfi/quiver/pkg/engine"
	"github.com/quiverfi/quiver/pkg/persistence"
	"github.com/quiverfi/quiver/pkg/web"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	engine   *engine.Engine
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, store persistence.Persistence, eng *engine.Engine) *API {
	return &API{
		logger:   logger,
		store:    store,
		engine:   eng,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.store, a.engine, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Quiver API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id/toggle", handlers.ToggleWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/trigger", handlers.TriggerWorkflow)
	w.Get("/:id/executions", handlers.GetExecutions)

	app.Post("/deposits", handlers.CreateDeposit)

	u := app.Group("/users/:userId")
	u.Get("/deposits", handlers.GetDeposits)
	u.Get("/notifications", handlers.GetNotifications)
	u.Get("/preferences", handlers.GetPreferences)
	u.Put("/preferences", handlers.UpdatePreferences)

	app.Get("/queues", handlers.GetQueueStats)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
