package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/kbforge/kbforge/pkg/registry"
	"github.com/kbforge/kbforge/pkg/services"
	"github.com/kbforge/kbforge/pkg/web"
)

type API struct {
	logger   *slog.Logger
	service  *services.Pipeline
	registry *registry.Registry
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	service *services.Pipeline,
	registry *registry.Registry,
) *API {
	return &API{
		logger:   logger,
		service:  service,
		registry: registry,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.service, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("KBForge API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(app *fiber.App, port int) error {
	return app.Listen(":" + strconv.Itoa(port))
}
