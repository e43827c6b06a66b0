package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/nearby/internal/adapters/postgres"
	"github.com/samirrijal/nearby/internal/adapters/valkey"
	"github.com/samirrijal/nearby/internal/core/ports"
	"github.com/samirrijal/nearby/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Nearby *usecases.NearbyService
	POIs   *usecases.POIService
	NATS   *nats.Conn
	// Events fans invalidations out to every instance. When nil they are
	// applied locally only.
	Events ports.EventPublisher
	DB     *postgres.DB
	Cache  *valkey.Cache

	// RateLimit is the number of REST requests per minute per IP; zero
	// means 120.
	RateLimit int
}
