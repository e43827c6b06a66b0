package ports

import (
	"context"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// POIRepository persists points of interest.
type POIRepository interface {
	UpsertBatch(ctx context.Context, pois []domain.POI) error
	// ReplaceRoutes sets the route scopes served by each POI id.
	ReplaceRoutes(ctx context.Context, links map[string][]string) error
	GetByID(ctx context.Context, id string) (*domain.POI, error)
	// FindNearby returns POIs of one category within radiusMeters, nearest
	// first. A non-empty scope restricts results to POIs served by that
	// route scope.
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, category domain.Category, scope string, limit int) ([]domain.POI, error)
}

// FavoriteRepository reads a user's favorite POIs.
type FavoriteRepository interface {
	ListFavorites(ctx context.Context, userID string, category domain.Category) (domain.FavoriteSet, error)
}
