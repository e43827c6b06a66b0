package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/pkg/config"
)

func gtfsZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func metroFeed(t *testing.T) []byte {
	return gtfsZip(t, map[string]string{
		"stops.txt": "\xef\xbb\xbfstop_id,stop_name,stop_lat,stop_lon,location_type,platform_code\n" +
			"MOY,Moyua,,,1,\n" +
			"MOY1,Moyua,43.2630,-2.9350,0,1\n" +
			"ABA1,Abando,43.2614,-2.9275,0,2\n" +
			"BAD,Nowhere,0,0,0,\n",
		"trips.txt": "route_id,service_id,trip_id,direction_id\n" +
			"L1,wk,t1,0\n" +
			"L1,wk,t2,1\n" +
			"L2,wk,t3,\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"t1,08:00:00,08:00:00,MOY1,1\n" +
			"t1,08:02:00,08:02:00,ABA1,2\n" +
			"t2,09:00:00,09:00:00,MOY1,1\n" +
			"t3,10:00:00,10:00:00,ABA1,1\n" +
			"t9,10:00:00,10:00:00,ABA1,1\n",
	})
}

func TestParseGTFS(t *testing.T) {
	feed, err := parseGTFS(metroFeed(t), domain.CategorySubway, "subway")
	require.NoError(t, err)

	require.Len(t, feed.Stops, 2)
	assert.Equal(t, "subway:MOY1", feed.Stops[0].ID)
	assert.Equal(t, domain.CategorySubway, feed.Stops[0].Category)
	assert.Equal(t, 43.2630, feed.Stops[0].Location.Lat)
	assert.Equal(t, "1", feed.Stops[0].Metadata["platform_code"])

	require.Len(t, feed.RouteStops, 2)
	for _, p := range feed.RouteStops {
		assert.Equal(t, domain.CategoryRouteStop, p.Category)
	}

	moyua := feed.Scopes["subway-route:MOY1"]
	sort.Strings(moyua)
	assert.Equal(t, []string{"L1:0", "L1:1"}, moyua)

	abando := feed.Scopes["subway-route:ABA1"]
	sort.Strings(abando)
	assert.Equal(t, []string{"L1:0", "L2:0"}, abando)
}

func TestParseGTFS_StopsOnly(t *testing.T) {
	data := gtfsZip(t, map[string]string{
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\nS1,Plaza,43.26,-2.93\n",
	})
	feed, err := parseGTFS(data, domain.CategoryBus, "bus")
	require.NoError(t, err)
	assert.Len(t, feed.Stops, 1)
	assert.Empty(t, feed.RouteStops)
}

func TestParseGTFS_NoStops(t *testing.T) {
	_, err := parseGTFS(gtfsZip(t, map[string]string{"agency.txt": "agency_id\n"}), domain.CategoryBus, "bus")
	assert.ErrorIs(t, err, errMissingFile)

	_, err = parseGTFS([]byte("not a zip"), domain.CategoryBus, "bus")
	assert.Error(t, err)
}

func gbfsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/gbfs.json", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"data": map[string]any{
			"es": map[string]any{"feeds": []map[string]string{
				{"name": "station_information", "url": srv.URL + "/es/info.json"},
			}},
			"en": map[string]any{"feeds": []map[string]string{
				{"name": "station_information", "url": srv.URL + "/info.json"},
				{"name": "station_status", "url": srv.URL + "/status.json"},
			}},
		}})
	})
	mux.HandleFunc("/info.json", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"data": map[string]any{"stations": []map[string]any{
			{"station_id": "7", "name": "Moyua", "lat": 43.2631, "lon": -2.9351, "capacity": 20},
			{"station_id": "8", "name": "Broken", "lat": 0, "lon": 0, "capacity": 10},
		}}})
	})
	mux.HandleFunc("/status.json", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"data": map[string]any{"stations": []map[string]any{
			{"station_id": "7", "num_bikes_available": 4, "num_docks_available": 16, "is_renting": 1},
		}}})
	})
	return srv
}

func TestFetchGBFS(t *testing.T) {
	srv := gbfsServer(t)

	pois, err := fetchGBFS(context.Background(), srv.Client(), srv.URL+"/gbfs.json", "bike")
	require.NoError(t, err)
	require.Len(t, pois, 1)

	p := pois[0]
	assert.Equal(t, "bike:7", p.ID)
	assert.Equal(t, domain.CategoryBike, p.Category)
	assert.Equal(t, 4, p.Metadata["bikes_available"])
	assert.Equal(t, 16, p.Metadata["docks_available"])
	assert.Equal(t, true, p.Metadata["is_renting"])
}

func TestGBFSDiscovery_NoInformation(t *testing.T) {
	_, _, err := gbfsDiscovery{}.feedURLs()
	assert.Error(t, err)
}

type recordingRepo struct {
	mu     sync.Mutex
	pois   map[domain.Category]int
	scopes map[string][]string
}

func (r *recordingRepo) UpsertBatch(_ context.Context, pois []domain.POI) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pois {
		r.pois[p.Category]++
	}
	return nil
}

func (r *recordingRepo) ReplaceRoutes(_ context.Context, links map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range links {
		r.scopes[k] = v
	}
	return nil
}

func (r *recordingRepo) GetByID(context.Context, string) (*domain.POI, error) {
	return nil, domain.ErrNotFound
}

func (r *recordingRepo) FindNearby(context.Context, float64, float64, float64, domain.Category, string, int) ([]domain.POI, error) {
	return nil, nil
}

type recordingEvents struct {
	mu         sync.Mutex
	categories []domain.Category
}

func (e *recordingEvents) PublishPOIsUpdated(_ context.Context, c domain.Category) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.categories = append(e.categories, c)
	return nil
}

func TestIngestor_Run(t *testing.T) {
	srv := gbfsServer(t)
	metro := metroFeed(t)
	srv.Config.Handler.(*http.ServeMux).HandleFunc("/metro.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(metro)
	})

	repo := &recordingRepo{pois: map[domain.Category]int{}, scopes: map[string][]string{}}
	events := &recordingEvents{}
	in := &ingestor{
		repo:   repo,
		events: events,
		client: srv.Client(),
		feeds: config.IngestConfig{
			GTFSSubwayURL: srv.URL + "/metro.zip",
			GBFSURL:       srv.URL + "/gbfs.json",
		},
	}

	require.NoError(t, in.run(context.Background()))

	assert.Equal(t, 2, repo.pois[domain.CategorySubway])
	assert.Equal(t, 2, repo.pois[domain.CategoryRouteStop])
	assert.Equal(t, 1, repo.pois[domain.CategoryBike])
	assert.Len(t, repo.scopes, 2)
	assert.ElementsMatch(t,
		[]domain.Category{domain.CategorySubway, domain.CategoryRouteStop, domain.CategoryBike},
		events.categories)
}

func TestIngestor_FeedFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	repo := &recordingRepo{pois: map[domain.Category]int{}, scopes: map[string][]string{}}
	in := &ingestor{
		repo:   repo,
		client: srv.Client(),
		feeds:  config.IngestConfig{GTFSBusURL: srv.URL + "/bus.zip"},
	}

	assert.Error(t, in.run(context.Background()))
	assert.Empty(t, repo.pois)
}
