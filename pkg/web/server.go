package web

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp builds the HTTP application serving service.
func NewApp(service GroupService) *fiber.App {
	handlers := NewAPIHandlers(service, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	Routes(app, handlers)

	return app
}

func Routes(app *fiber.App, handlers *APIHandlers) {
	commands := app.Group("/commands")
	commands.Post("/update", handlers.RequestUpdate)
	commands.Post("/push", handlers.PushPayload)
	commands.Put("/config", handlers.Configure)

	g := app.Group("/groups")
	g.Get("/", handlers.GetGroups)
	g.Get("/:name", handlers.GetGroup)

	app.Get("/device", handlers.GetDevice)
}

func Listen(app *fiber.App, port int) error {
	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
