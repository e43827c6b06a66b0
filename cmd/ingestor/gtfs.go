package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// gtfsFeed is the result of reading one static GTFS feed: the stops of the
// feed's category, route stops, and the route-direction scopes of each
// route stop.
type gtfsFeed struct {
	Stops      []domain.POI
	RouteStops []domain.POI
	Scopes     map[string][]string // route stop id -> "route_id:direction_id"
}

// download fetches url into memory.
func download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// parseGTFS reads stops.txt, trips.txt and stop_times.txt from a GTFS zip.
// prefix namespaces the ids so several feeds can share the table.
// Missing trips or stop_times only leave the route stops unscoped.
func parseGTFS(data []byte, category domain.Category, prefix string) (*gtfsFeed, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	feed := &gtfsFeed{Scopes: make(map[string][]string)}
	stopIdx := make(map[string]int) // gtfs stop_id -> index in Stops

	err = eachRecord(zr, "stops.txt", func(cols map[string]int, rec []string) {
		stopID := getField(rec, cols, "stop_id")
		// location_type 1 is a parent station; its platforms are listed too.
		if stopID == "" || getField(rec, cols, "location_type") == "1" {
			return
		}
		lat, err1 := strconv.ParseFloat(getField(rec, cols, "stop_lat"), 64)
		lon, err2 := strconv.ParseFloat(getField(rec, cols, "stop_lon"), 64)
		if err1 != nil || err2 != nil || (lat == 0 && lon == 0) {
			return
		}
		meta := map[string]any{"stop_id": stopID}
		if code := getField(rec, cols, "platform_code"); code != "" {
			meta["platform_code"] = code
		}
		if getField(rec, cols, "wheelchair_boarding") == "1" {
			meta["wheelchair_accessible"] = true
		}
		stopIdx[stopID] = len(feed.Stops)
		feed.Stops = append(feed.Stops, domain.POI{
			ID:       prefix + ":" + stopID,
			Name:     getField(rec, cols, "stop_name"),
			Category: category,
			Location: domain.GeoPoint{Lat: lat, Lon: lon},
			Metadata: meta,
		})
	})
	if err != nil {
		return nil, err
	}

	tripScope := make(map[string]string)
	err = eachRecord(zr, "trips.txt", func(cols map[string]int, rec []string) {
		tripID := getField(rec, cols, "trip_id")
		routeID := getField(rec, cols, "route_id")
		if tripID == "" || routeID == "" {
			return
		}
		dir := getField(rec, cols, "direction_id")
		if dir == "" {
			dir = "0"
		}
		tripScope[tripID] = routeID + ":" + dir
	})
	if errors.Is(err, errMissingFile) {
		return feed, nil
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]map[string]bool)
	err = eachRecord(zr, "stop_times.txt", func(cols map[string]int, rec []string) {
		scope, ok := tripScope[getField(rec, cols, "trip_id")]
		if !ok {
			return
		}
		stopID := getField(rec, cols, "stop_id")
		if _, ok := stopIdx[stopID]; !ok {
			return
		}
		if seen[stopID] == nil {
			seen[stopID] = make(map[string]bool)
		}
		seen[stopID][scope] = true
	})
	if errors.Is(err, errMissingFile) {
		return feed, nil
	}
	if err != nil {
		return nil, err
	}

	for stopID, scopes := range seen {
		stop := feed.Stops[stopIdx[stopID]]
		id := prefix + "-route:" + stopID
		feed.RouteStops = append(feed.RouteStops, domain.POI{
			ID:       id,
			Name:     stop.Name,
			Category: domain.CategoryRouteStop,
			Location: stop.Location,
			Metadata: stop.Metadata,
		})
		for scope := range scopes {
			feed.Scopes[id] = append(feed.Scopes[id], scope)
		}
	}
	return feed, nil
}

var errMissingFile = errors.New("file not found in zip")

// eachRecord calls fn for every data row of a CSV file in the zip.
// Malformed rows are skipped.
func eachRecord(zr *zip.Reader, name string, fn func(cols map[string]int, rec []string)) error {
	f, err := openCSV(zr, name)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%s header: %w", name, err)
	}
	cols := indexColumns(header)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			continue
		}
		fn(cols, record)
	}
}

func openCSV(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%s: %w", name, errMissingFile)
}

func indexColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		// Strip BOM from first column
		col = strings.TrimPrefix(col, "\xef\xbb\xbf")
		m[strings.TrimSpace(col)] = i
	}
	return m
}

func getField(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
