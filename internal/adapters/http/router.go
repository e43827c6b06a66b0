package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/nearby/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// The engine stream is long-lived; it skips compression, rate limiting
	// and caching below.
	app.Use("/v1/nearby/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals(localUserID, c.Get(HeaderUserID))
		return c.Next()
	})
	app.Get("/v1/nearby/ws", websocket.New(WebSocketHandler(deps), websocket.Config{
		HandshakeTimeout: 10 * time.Second,
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	maxReq := deps.RateLimit
	if maxReq <= 0 {
		maxReq = 120
	}
	app.Use(limiter.New(limiter.Config{
		Max:        maxReq,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})
	app.Use(CachingMiddleware())

	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Get("/nearby", timeout.NewWithContext(NearbyHandler(deps), requestTimeout))
	v1.Get("/pois/:id", ETagMiddleware(), timeout.NewWithContext(GetPOIHandler(deps), requestTimeout))
	v1.Post("/pois/invalidate/:category", timeout.NewWithContext(InvalidateHandler(deps), requestTimeout))

	app.Post("/graphql", GraphQLHandler(deps))
}
