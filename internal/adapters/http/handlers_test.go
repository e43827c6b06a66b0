package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/nearby/internal/adapters/http"
	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/usecases"
)

// ---- Mock repositories ----

type mockPOIRepo struct {
	findNearbyFn func(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error)
	getByIDFn    func(ctx context.Context, id string) (*domain.POI, error)
}

func (m *mockPOIRepo) UpsertBatch(ctx context.Context, pois []domain.POI) error { return nil }
func (m *mockPOIRepo) ReplaceRoutes(ctx context.Context, links map[string][]string) error {
	return nil
}
func (m *mockPOIRepo) GetByID(ctx context.Context, id string) (*domain.POI, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}
func (m *mockPOIRepo) FindNearby(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, lat, lon, radius, category, scope, limit)
	}
	return nil, nil
}

type mockPublisher struct {
	mu         sync.Mutex
	categories []domain.Category
}

func (m *mockPublisher) PublishPOIsUpdated(ctx context.Context, category domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories = append(m.categories, category)
	return nil
}

// ---- Test helpers ----

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func makeDeps(repo *mockPOIRepo) *handler.Dependencies {
	pois := usecases.NewPOIService(repo, nil, 0)
	nearby := usecases.NewNearbyService(pois, nil, usecases.NearbyConfig{})
	return &handler.Dependencies{Nearby: nearby, POIs: pois}
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func bilbaoStops() []domain.POI {
	return []domain.POI{
		{ID: "abando", Name: "Abando", Category: domain.CategorySubway, Location: domain.GeoPoint{Lat: 43.2614, Lon: -2.9275}},
		{ID: "moyua", Name: "Moyua", Category: domain.CategorySubway, Location: domain.GeoPoint{Lat: 43.2630, Lon: -2.9350}},
	}
}

// ---- Nearby ----

func TestNearby_Success(t *testing.T) {
	var gotCategory domain.Category
	var gotLimit int
	app := setupApp(makeDeps(&mockPOIRepo{
		findNearbyFn: func(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error) {
			gotCategory, gotLimit = category, limit
			return bilbaoStops(), nil
		},
	}))

	req := httptest.NewRequest("GET", "/v1/nearby?lat=43.2632&lon=-2.9352&category=subway&limit=5", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}

	var result domain.SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if gotCategory != domain.CategorySubway || gotLimit != 5 {
		t.Errorf("repo called with %s/%d", gotCategory, gotLimit)
	}
	if len(result.POIs) != 2 {
		t.Fatalf("expected 2 pois, got %d", len(result.POIs))
	}
	if result.POIs[0].ID != "moyua" {
		t.Errorf("expected moyua first, got %s", result.POIs[0].ID)
	}
	if result.ClosestID != "moyua" {
		t.Errorf("expected closest moyua, got %q", result.ClosestID)
	}
	if result.POIs[0].DistanceLabel == "" {
		t.Error("expected a distance label")
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "private, max-age=15" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}
}

func TestNearby_BadParams(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{}))

	cases := []string{
		"/v1/nearby",
		"/v1/nearby?lat=43.26&category=subway",
		"/v1/nearby?lat=91&lon=0&category=subway",
		"/v1/nearby?lat=43.26&lon=-2.93&category=ferry",
		"/v1/nearby?lat=43.26&lon=-2.93&category=bus&limit=5000",
		"/v1/nearby?lat=north&lon=-2.93&category=bus",
	}
	for _, url := range cases {
		resp, _ := app.Test(httptest.NewRequest("GET", url, nil), -1)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", url, resp.StatusCode)
			continue
		}
		var apiErr handler.APIError
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Code != "bad_request" {
			t.Errorf("%s: expected bad_request, got %s", url, apiErr.Code)
		}
		if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
			t.Errorf("%s: expected no-store on error, got %q", url, cc)
		}
	}
}

func TestNearby_ZeroCoordinatesAccepted(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/nearby?lat=0&lon=0&category=bike", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
}

func TestNearby_StoreFailure(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{
		findNearbyFn: func(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error) {
			return nil, errors.New("connection refused")
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/nearby?lat=43.26&lon=-2.93&category=bus", nil), -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body := string(readBody(t, resp.Body))
	if strings.Contains(body, "connection refused") {
		t.Errorf("store error leaked to client: %s", body)
	}
}

// ---- POIs ----

func TestGetPOI_Success(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.POI, error) {
			p := bilbaoStops()[0]
			return &p, nil
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/pois/abando", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var p domain.POI
	json.NewDecoder(resp.Body).Decode(&p)
	if p.ID != "abando" || p.Name != "Abando" {
		t.Errorf("unexpected poi %+v", p)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}
	req := httptest.NewRequest("GET", "/v1/pois/abando", nil)
	req.Header.Set("If-None-Match", etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Errorf("expected 304 for matching ETag, got %d", resp.StatusCode)
	}
}

func TestGetPOI_NotFound(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/pois/nope", nil), -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var apiErr handler.APIError
	json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Code != "not_found" {
		t.Errorf("expected not_found, got %s", apiErr.Code)
	}
	if apiErr.RequestID == "" || apiErr.RequestID != resp.Header.Get("X-Request-ID") {
		t.Errorf("expected request id %q, got %q", resp.Header.Get("X-Request-ID"), apiErr.RequestID)
	}
}

func TestInvalidate_Publishes(t *testing.T) {
	pub := &mockPublisher{}
	deps := makeDeps(&mockPOIRepo{})
	deps.Events = pub
	app := setupApp(deps)

	resp, _ := app.Test(httptest.NewRequest("POST", "/v1/pois/invalidate/bike", nil), -1)
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(pub.categories) != 1 || pub.categories[0] != domain.CategoryBike {
		t.Errorf("expected one bike event, got %v", pub.categories)
	}

	resp, _ = app.Test(httptest.NewRequest("POST", "/v1/pois/invalidate/ferry", nil), -1)
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for unknown category, got %d", resp.StatusCode)
	}
}

func TestInvalidate_Local(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{}))

	resp, _ := app.Test(httptest.NewRequest("POST", "/v1/pois/invalidate/subway", nil), -1)
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

// ---- GraphQL ----

func TestGraphQL_Nearby(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{
		findNearbyFn: func(ctx context.Context, lat, lon, radius float64, category domain.Category, scope string, limit int) ([]domain.POI, error) {
			return bilbaoStops(), nil
		},
	}))

	query := `{"query":"{ nearby(lat: 43.2632, lon: -2.9352, category: subway) { state closest_id pois { id category distance_label } } }"}`
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(query))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			Nearby struct {
				State     string `json:"state"`
				ClosestID string `json:"closest_id"`
				POIs      []struct {
					ID       string `json:"id"`
					Category string `json:"category"`
				} `json:"pois"`
			} `json:"nearby"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Errors) > 0 {
		t.Fatalf("graphql errors: %v", out.Errors)
	}
	if out.Data.Nearby.State != "idle" || out.Data.Nearby.ClosestID != "moyua" {
		t.Errorf("unexpected result %+v", out.Data.Nearby)
	}
	if len(out.Data.Nearby.POIs) != 2 || out.Data.Nearby.POIs[0].Category != "subway" {
		t.Errorf("unexpected pois %+v", out.Data.Nearby.POIs)
	}
}

// ---- Health ----

func TestHealth_Returns200(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/health", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if result["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", result["status"])
	}
	if result["sessions"] != float64(0) {
		t.Errorf("expected 0 sessions, got %v", result["sessions"])
	}
}

func TestReady_NoDB(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/ready", nil), -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "not ready" {
		t.Errorf("expected not ready, got %q", body.Status)
	}
	for _, name := range []string{"database", "nats", "cache"} {
		if body.Checks[name] != "not configured" {
			t.Errorf("%s: expected not configured, got %q", name, body.Checks[name])
		}
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	app := setupApp(makeDeps(&mockPOIRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/nearby/ws", nil), -1)
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}
