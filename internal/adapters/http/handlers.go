package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// HeaderUserID carries the caller's user id. Authentication happens
// upstream; anonymous callers get no favorites.
const HeaderUserID = "X-User-ID"

const localUserID = "user_id"

type nearbyQuery struct {
	Lat      *float64 `query:"lat" validate:"required,min=-90,max=90"`
	Lon      *float64 `query:"lon" validate:"required,min=-180,max=180"`
	Category string   `query:"category" validate:"required,oneof=bus subway bike route_stop"`
	Scope    string   `query:"scope" validate:"max=128"`
	Limit    int      `query:"limit" validate:"min=0,max=200"`
}

// NearbyHandler runs a one-shot ranked search around lat/lon.
//
//	GET /v1/nearby?lat=43.263&lon=-2.935&category=subway&limit=20
func NearbyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var q nearbyQuery
		if err := c.QueryParser(&q); err != nil {
			return errBadRequest(c, "invalid query: "+err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return errFromDomain(c, err)
		}
		category, err := domain.ParseCategory(q.Category)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		res, err := deps.Nearby.Nearby(c.UserContext(), *q.Lat, *q.Lon, category, q.Scope, q.Limit)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(res)
	}
}

// GetPOIHandler returns one point of interest by id.
func GetPOIHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "id is required")
		}
		poi, err := deps.POIs.GetByID(c.UserContext(), id)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(poi)
	}
}

// InvalidateHandler marks the cached results of a category as outdated and
// makes every open engine of that category refresh.
func InvalidateHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		category, err := domain.ParseCategory(c.Params("category"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		ctx := c.UserContext()
		if deps.Events != nil {
			err = deps.Events.PublishPOIsUpdated(ctx, category)
		} else {
			err = deps.Nearby.InvalidateCategory(ctx, category)
		}
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}
