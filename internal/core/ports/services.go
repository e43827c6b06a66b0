package ports

import (
	"context"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// POIStore answers nearby searches for the proximity engine. Calls must
// return promptly once ctx is cancelled.
type POIStore interface {
	FindNearby(ctx context.Context, lat, lon float64, filter domain.QueryKey, limit int) ([]domain.POI, error)
}

// FavoriteStore lists the favorite POI ids of one category.
type FavoriteStore interface {
	ListFavorites(ctx context.Context, category domain.Category) (domain.FavoriteSet, error)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishPOIsUpdated(ctx context.Context, category domain.Category) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribePOIUpdates(ctx context.Context, handler func(ctx context.Context, category domain.Category) error) error
	SubscribeFavoriteChanges(ctx context.Context, handler func(ctx context.Context, userID string) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
