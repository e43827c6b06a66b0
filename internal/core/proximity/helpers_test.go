package proximity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/proximity"
)

type findFunc func(ctx context.Context, call int, key domain.QueryKey) ([]domain.POI, error)

// mockStore implements ports.POIStore with a swappable find function.
type mockStore struct {
	mu      sync.Mutex
	calls   int
	started chan int
	findFn  findFunc
}

func newMockStore(fn findFunc) *mockStore {
	return &mockStore{findFn: fn, started: make(chan int, 32)}
}

func (m *mockStore) FindNearby(ctx context.Context, lat, lon float64, filter domain.QueryKey, limit int) ([]domain.POI, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	m.started <- call
	return m.findFn(ctx, call, filter)
}

func (m *mockStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func returning(pois ...domain.POI) findFunc {
	return func(context.Context, int, domain.QueryKey) ([]domain.POI, error) {
		return pois, nil
	}
}

func blockUntilCancelled(ctx context.Context, _ int, _ domain.QueryKey) ([]domain.POI, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// mockFavorites implements ports.FavoriteStore.
type mockFavorites struct {
	mu  sync.Mutex
	set domain.FavoriteSet
	err error
}

func (m *mockFavorites) ListFavorites(context.Context, domain.Category) (domain.FavoriteSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set, m.err
}

func (m *mockFavorites) Set(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = domain.NewFavoriteSet(ids...)
}

// blockingFavorites answers the first poll and blocks later ones until
// their context ends.
type blockingFavorites struct {
	mu      sync.Mutex
	calls   int
	started chan int
	done    chan error
}

func (b *blockingFavorites) ListFavorites(ctx context.Context, _ domain.Category) (domain.FavoriteSet, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.mu.Unlock()
	b.started <- call
	if call == 1 {
		return domain.NewFavoriteSet(), nil
	}
	<-ctx.Done()
	b.done <- ctx.Err()
	return nil, ctx.Err()
}

func threePOIs() []domain.POI {
	return []domain.POI{
		poi("far", 43.2700, -2.9350),
		poi("near", 43.2632, -2.9350),
		poi("mid", 43.2650, -2.9350),
	}
}

// outcomes collects coordinator outcomes of one key.
func outcomes(t *testing.T) (chan proximity.Outcome, func(proximity.Outcome)) {
	t.Helper()
	ch := make(chan proximity.Outcome, 16)
	return ch, func(o proximity.Outcome) { ch <- o }
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func none[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitDone(t *testing.T, s *proximity.Search) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("search %d did not finish: %v", s.Generation(), err)
	}
}

// moved returns a fix north of loc by about dMeters.
func moved(loc domain.Location, dMeters float64) domain.Location {
	loc.Lat += dMeters / 111195.0
	return loc
}
