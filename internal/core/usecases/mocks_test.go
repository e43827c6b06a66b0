package usecases_test

import (
	"context"
	"errors"
	"sync"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// --- Mock POIRepository ---

type mockPOIRepo struct {
	mu           sync.Mutex
	calls        int
	findNearbyFn func(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error)
	getByIDFn    func(ctx context.Context, id string) (*domain.POI, error)
}

func (m *mockPOIRepo) UpsertBatch(ctx context.Context, pois []domain.POI) error { return nil }
func (m *mockPOIRepo) ReplaceRoutes(ctx context.Context, links map[string][]string) error {
	return nil
}

func (m *mockPOIRepo) FindNearby(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, lat, lon, radius, category, scope, limit)
	}
	return nil, nil
}

func (m *mockPOIRepo) GetByID(ctx context.Context, id string) (*domain.POI, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPOIRepo) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock FavoriteRepository ---

type mockFavoriteRepo struct {
	mu     sync.Mutex
	listFn func(ctx context.Context, userID string, category domain.Category) (domain.FavoriteSet, error)
}

func (m *mockFavoriteRepo) ListFavorites(ctx context.Context, userID string, category domain.Category) (domain.FavoriteSet, error) {
	m.mu.Lock()
	fn := m.listFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, userID, category)
	}
	return nil, nil
}

func (m *mockFavoriteRepo) set(fn func(ctx context.Context, userID string, category domain.Category) (domain.FavoriteSet, error)) {
	m.mu.Lock()
	m.listFn = fn
	m.mu.Unlock()
}

// --- Mock CacheService ---

var errCacheMiss = errors.New("cache miss")

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func bilbaoStops() []domain.POI {
	return []domain.POI{
		{ID: "moyua", Name: "Moyua", Category: domain.CategorySubway, Location: domain.GeoPoint{Lat: 43.2630, Lon: -2.9350}},
		{ID: "abando", Name: "Abando", Category: domain.CategorySubway, Location: domain.GeoPoint{Lat: 43.2614, Lon: -2.9275}},
		{ID: "indautxu", Name: "Indautxu", Category: domain.CategorySubway, Location: domain.GeoPoint{Lat: 43.2598, Lon: -2.9447}},
	}
}
