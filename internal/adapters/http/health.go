package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler returns a basic liveness check.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).Round(time.Second).String(),
			"version": "dev",
		}
		if deps.Nearby != nil {
			body["sessions"] = deps.Nearby.ActiveSessions()
		}
		return c.JSON(body)
	}
}

type readinessProbe struct {
	name     string
	required bool
	check    func(context.Context) error // nil: dependency not configured
}

func readinessProbes(deps *Dependencies) []readinessProbe {
	probes := []readinessProbe{
		{name: "database", required: true},
		{name: "nats"},
		{name: "cache"},
	}
	if deps.DB != nil {
		probes[0].check = deps.DB.Ping
	}
	if deps.NATS != nil {
		probes[1].check = func(context.Context) error {
			if !deps.NATS.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
		probes[1].required = true
	}
	if deps.Cache != nil {
		probes[2].check = deps.Cache.Ping
		probes[2].required = true
	}
	return probes
}

// ReadyHandler reports whether the database and the configured optional
// dependencies (NATS, cache) answer. Only the database must be configured.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		ready := true
		checks := make(map[string]string)
		for _, p := range readinessProbes(deps) {
			switch {
			case p.check == nil:
				checks[p.name] = "not configured"
				ready = ready && !p.required
			default:
				if err := p.check(ctx); err != nil {
					checks[p.name] = "error: " + err.Error()
					ready = false
				} else {
					checks[p.name] = "ok"
				}
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "checks": checks})
		}
		return c.JSON(fiber.Map{"status": "ready", "checks": checks})
	}
}
