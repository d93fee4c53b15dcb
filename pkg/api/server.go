package api

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	customlog "github.com/open-rov/rovbridge/pkg/log"
)

// ServerOptions wires the HTTP server.
type ServerOptions struct {
	Bridge         Bridge
	Bus            Subscriber
	Logger         customlog.Logger
	AllowedOrigins []string
	// AccessLog enables the per-request log line.
	AccessLog bool
}

// NewApp builds the Fiber app with the REST API, the control WebSocket at
// /ws and the health endpoints.
func NewApp(opts ServerOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "rovbridge",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	if opts.AccessLog {
		app.Use(logger.New())
	}
	app.Use(recover.New())

	origins := "*"
	if len(opts.AllowedOrigins) > 0 {
		origins = strings.Join(opts.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{AllowOrigins: origins}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "rovbridge",
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	RegisterConfigRoutes(app, opts.Bridge, opts.Logger)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(ControlWebSocketHandler(opts.Bus, opts.Bridge, opts.Logger)))

	return app
}

// customErrorHandler renders every error as {"error": "..."}.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
