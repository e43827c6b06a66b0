package usecases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/usecases"
)

var subway = domain.QueryKey{Session: "s", Category: domain.CategorySubway}

func TestPOIService_FindNearby(t *testing.T) {
	repo := &mockPOIRepo{
		findNearbyFn: func(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error) {
			if radius != 800 {
				t.Errorf("expected radius 800, got %v", radius)
			}
			if category != domain.CategoryRouteStop || scope != "L3:0" {
				t.Errorf("unexpected filter %s/%s", category, scope)
			}
			return bilbaoStops(), nil
		},
	}

	svc := usecases.NewPOIService(repo, nil, 800)
	filter := domain.QueryKey{Session: "s", Category: domain.CategoryRouteStop, Scope: "L3:0"}
	pois, err := svc.FindNearby(context.Background(), 43.263, -2.935, filter, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pois) != 3 {
		t.Fatalf("expected 3 POIs, got %d", len(pois))
	}
}

func TestPOIService_FindNearby_ClampLimit(t *testing.T) {
	called := false
	repo := &mockPOIRepo{
		findNearbyFn: func(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error) {
			called = true
			if limit != 200 {
				t.Errorf("expected limit clamped to 200, got %d", limit)
			}
			if radius != usecases.DefaultSearchRadius {
				t.Errorf("expected default radius, got %v", radius)
			}
			return nil, nil
		},
	}

	svc := usecases.NewPOIService(repo, nil, 0)
	_, _ = svc.FindNearby(context.Background(), 43.0, -2.0, subway, 999)
	if !called {
		t.Error("repo was not called")
	}
}

func TestPOIService_FindNearby_Cached(t *testing.T) {
	repo := &mockPOIRepo{
		findNearbyFn: func(context.Context, float64, float64, float64, domain.Category, string, int) ([]domain.POI, error) {
			return bilbaoStops(), nil
		},
	}
	svc := usecases.NewPOIService(repo, newMockCache(), 0)

	for i := 0; i < 3; i++ {
		pois, err := svc.FindNearby(context.Background(), 43.263, -2.935, subway, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pois) != 3 || pois[1].ID != "abando" {
			t.Fatalf("unexpected POIs: %+v", pois)
		}
	}
	if repo.Calls() != 1 {
		t.Errorf("expected 1 repo call, got %d", repo.Calls())
	}

	// Other sessions share the cache entry.
	other := domain.QueryKey{Session: "t", Category: domain.CategorySubway}
	_, _ = svc.FindNearby(context.Background(), 43.263, -2.935, other, 10)
	if repo.Calls() != 1 {
		t.Errorf("expected shared cache entry, got %d repo calls", repo.Calls())
	}
}

func TestPOIService_FindNearby_EmptyNotCached(t *testing.T) {
	repo := &mockPOIRepo{}
	svc := usecases.NewPOIService(repo, newMockCache(), 0)

	_, _ = svc.FindNearby(context.Background(), 43.263, -2.935, subway, 10)
	_, _ = svc.FindNearby(context.Background(), 43.263, -2.935, subway, 10)
	if repo.Calls() != 2 {
		t.Errorf("expected 2 repo calls, got %d", repo.Calls())
	}
}

func TestPOIService_Invalidate(t *testing.T) {
	repo := &mockPOIRepo{
		findNearbyFn: func(context.Context, float64, float64, float64, domain.Category, string, int) ([]domain.POI, error) {
			return bilbaoStops(), nil
		},
	}
	svc := usecases.NewPOIService(repo, newMockCache(), 0)
	ctx := context.Background()

	_, _ = svc.FindNearby(ctx, 43.263, -2.935, subway, 10)
	if err := svc.Invalidate(ctx, domain.CategoryBus); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = svc.FindNearby(ctx, 43.263, -2.935, subway, 10)
	if repo.Calls() != 1 {
		t.Errorf("invalidating another category must keep the entry, got %d calls", repo.Calls())
	}

	if err := svc.Invalidate(ctx, domain.CategorySubway); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = svc.FindNearby(ctx, 43.263, -2.935, subway, 10)
	if repo.Calls() != 2 {
		t.Errorf("expected 2 repo calls after invalidation, got %d", repo.Calls())
	}
}

func TestPOIService_FindNearby_Error(t *testing.T) {
	dbErr := errors.New("connection reset")
	repo := &mockPOIRepo{
		findNearbyFn: func(context.Context, float64, float64, float64, domain.Category, string, int) ([]domain.POI, error) {
			return nil, dbErr
		},
	}
	svc := usecases.NewPOIService(repo, nil, 0)
	_, err := svc.FindNearby(context.Background(), 43.263, -2.935, subway, 10)
	if !errors.Is(err, dbErr) {
		t.Errorf("expected wrapped repo error, got %v", err)
	}
}

func TestPOIService_GetByID(t *testing.T) {
	repo := &mockPOIRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.POI, error) {
			return &domain.POI{ID: id, Name: "Test Stop"}, nil
		},
	}

	svc := usecases.NewPOIService(repo, newMockCache(), 0)
	p, err := svc.GetByID(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "abc-123" {
		t.Errorf("expected id abc-123, got %s", p.ID)
	}
}
