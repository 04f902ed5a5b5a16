package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/melih/lighthouse/internal/core/ports"
	"github.com/melih/lighthouse/internal/logging"
)

// NewApp wires the control plane routes onto a fiber app.
// Requests for <name>.<proxyDomain> are proxied to the service called name.
func NewApp(containers ports.ContainerService, pipeline BuildPipeline, proxyDomain string, logger *slog.Logger) *fiber.App {
	logger = logging.Ensure(logger).With("component", "http")

	app := fiber.New(fiber.Config{
		AppName:               "lighthouse",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestLogger(logger))

	// Subdomain requests go to the launched services before the API sees them.
	app.Use(NewProxyHandler(containers, proxyDomain).ProxyRequest)

	containerHandler := NewContainerHandler(containers)
	buildHandler := NewBuildHandler(pipeline)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	// Routes for Container operations
	c := v1.Group("/containers")
	c.Get("/", containerHandler.ListContainers)
	c.Post("/", containerHandler.StartContainer)
	c.Delete("/:id", containerHandler.StopContainer)
	c.Get("/:id/logs", containerHandler.GetContainerLogs)

	b := v1.Group("/builds")
	b.Get("/", buildHandler.ListBuilds)
	b.Post("/", buildHandler.CreateBuild)
	b.Get("/:id", buildHandler.GetBuild)

	r := v1.Group("/recipes")
	r.Post("/render", buildHandler.RenderRecipe)
	r.Get("/:preset", buildHandler.GetPreset)
	r.Get("/:preset/dockerfile", buildHandler.GetPresetDockerfile)

	return app
}

func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"elapsed", time.Since(start),
		)
		return err
	}
}
