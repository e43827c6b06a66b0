package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/ports"
	"github.com/samirrijal/nearby/internal/pkg/metrics"
)

const (
	DefaultSearchRadius = 1500.0 // meters
	maxSearchLimit      = 200
	nearbyCacheTTL      = 60  // seconds
	poiCacheTTL         = 600 // seconds
)

// POIService answers nearby searches from the POI repository through a
// read-through cache. It is the POI store of the proximity engine.
type POIService struct {
	pois   ports.POIRepository
	cache  ports.CacheService
	radius float64
}

// NewPOIService creates a new POIService. cache may be nil.
func NewPOIService(pois ports.POIRepository, cache ports.CacheService, radiusMeters float64) *POIService {
	if radiusMeters <= 0 {
		radiusMeters = DefaultSearchRadius
	}
	return &POIService{pois: pois, cache: cache, radius: radiusMeters}
}

// FindNearby returns POIs of the filter's category around a point.
// Empty pages are not cached so a retry reaches the database.
func (s *POIService) FindNearby(ctx context.Context, lat, lon float64, filter domain.QueryKey, limit int) ([]domain.POI, error) {
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	cacheKey := fmt.Sprintf("pois:nearby:%s:%s:%s:%.4f:%.4f:%.0f:%d",
		s.version(ctx, filter.Category), filter.Category, filter.Scope, lat, lon, s.radius, limit)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var pois []domain.POI
			if err := json.Unmarshal(data, &pois); err == nil {
				metrics.CacheHits.WithLabelValues("find_nearby").Inc()
				return pois, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("find_nearby").Inc()
	}

	pois, err := s.pois.FindNearby(ctx, lat, lon, s.radius, filter.Category, filter.Scope, limit)
	if err != nil {
		return nil, fmt.Errorf("find nearby %s: %w", filter.Category, err)
	}

	if s.cache != nil && len(pois) > 0 {
		if data, err := json.Marshal(pois); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, nearbyCacheTTL)
		}
	}

	return pois, nil
}

// GetByID returns a single POI.
func (s *POIService) GetByID(ctx context.Context, id string) (*domain.POI, error) {
	cacheKey := "pois:id:" + id
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var p domain.POI
			if err := json.Unmarshal(data, &p); err == nil {
				metrics.CacheHits.WithLabelValues("get_by_id").Inc()
				return &p, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("get_by_id").Inc()
	}

	p, err := s.pois.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(p); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, poiCacheTTL)
		}
	}

	return p, nil
}

// Invalidate drops every cached nearby page of a category by moving the
// category to a new cache version.
func (s *POIService) Invalidate(ctx context.Context, category domain.Category) error {
	if s.cache == nil {
		return nil
	}
	v := strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := s.cache.Set(ctx, versionKey(category), []byte(v), 0); err != nil {
		return fmt.Errorf("invalidate %s: %w", category, err)
	}
	return nil
}

func (s *POIService) version(ctx context.Context, category domain.Category) string {
	if s.cache == nil {
		return "0"
	}
	data, err := s.cache.Get(ctx, versionKey(category))
	if err != nil || len(data) == 0 {
		return "0"
	}
	return string(data)
}

func versionKey(category domain.Category) string {
	return "pois:version:" + string(category)
}
