package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	controller "mailprobe/controllers"
	"mailprobe/middleware"
)

// Dependencies are the wired controllers and limiter settings.
type Dependencies struct {
	Verification *controller.VerificationController
	Diagnostics  *controller.DiagnosticsController

	// LimiterStorage is nil for in-memory counters.
	LimiterStorage  fiber.Storage
	SubmitPerMinute int
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	vc := deps.Verification

	// API group with versioning
	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	api.Post("/verify",
		middleware.IPRateLimiter("submit", deps.SubmitPerMinute, time.Minute, deps.LimiterStorage),
		vc.Submit,
	)
	api.Get("/results", vc.Results)
	api.Get("/status", vc.Status)
	api.Get("/download", vc.Download)

	// WebSocket route for live results
	api.Get("/ws/results", controller.RequireUpgrade, websocket.New(vc.StreamResults))

	// Persisted history
	runs := api.Group("/runs")
	runs.Get("/", vc.ListRuns)
	runs.Get("/:id", vc.GetRun)

	// Diagnostics share the submit budget; each one opens an SMTP session.
	domains := api.Group("/domains",
		middleware.IPRateLimiter("diagnostics", deps.SubmitPerMinute, time.Minute, deps.LimiterStorage),
	)
	domains.Get("/:domain/catch-all", deps.Diagnostics.CatchAll)

	logrus.Info("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	SetupAPIRoutes(app, deps)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
