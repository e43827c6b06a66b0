package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control on GET responses that did not set
// one themselves.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet || c.Get(fiber.HeaderCacheControl) != "" {
			return err
		}
		if c.Response().StatusCode() >= fiber.StatusBadRequest {
			c.Set(fiber.HeaderCacheControl, "no-store")
			return err
		}

		path := c.Path()
		var ttl string
		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "no-cache"
		case path == "/metrics":
			ttl = "no-cache"
		case path == "/v1/nearby":
			ttl = "private, max-age=15" // position dependent
		case strings.HasPrefix(path, "/v1/pois/"):
			ttl = "public, max-age=600"
		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=60"
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}
		return err
	}
}
