package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// GBFS auto-discovery document (gbfs.json). Feeds are listed per language.
type gbfsDiscovery struct {
	Data map[string]struct {
		Feeds []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"feeds"`
	} `json:"data"`
}

type gbfsStationInformation struct {
	Data struct {
		Stations []struct {
			StationID string  `json:"station_id"`
			Name      string  `json:"name"`
			Lat       float64 `json:"lat"`
			Lon       float64 `json:"lon"`
			Capacity  int     `json:"capacity"`
		} `json:"stations"`
	} `json:"data"`
}

type gbfsStationStatus struct {
	Data struct {
		Stations []struct {
			StationID         string `json:"station_id"`
			NumBikesAvailable int    `json:"num_bikes_available"`
			NumDocksAvailable int    `json:"num_docks_available"`
			IsRenting         any    `json:"is_renting"` // bool in v2, 0/1 in v1
		} `json:"stations"`
	} `json:"data"`
}

// feedURLs returns the station_information and station_status URLs of a
// discovery document, preferring English.
func (d gbfsDiscovery) feedURLs() (info, status string, err error) {
	langs := make([]string, 0, len(d.Data))
	if _, ok := d.Data["en"]; ok {
		langs = append(langs, "en")
	}
	for lang := range d.Data {
		if lang != "en" {
			langs = append(langs, lang)
		}
	}
	for _, lang := range langs {
		for _, f := range d.Data[lang].Feeds {
			switch f.Name {
			case "station_information":
				info = f.URL
			case "station_status":
				status = f.URL
			}
		}
		if info != "" {
			return info, status, nil
		}
	}
	return "", "", fmt.Errorf("gbfs: no station_information feed")
}

// fetchGBFS reads the bike stations of a GBFS system. Status is optional:
// without it stations are stored with capacity only.
func fetchGBFS(ctx context.Context, client *http.Client, discoveryURL, prefix string) ([]domain.POI, error) {
	var disc gbfsDiscovery
	if err := fetchJSON(ctx, client, discoveryURL, &disc); err != nil {
		return nil, fmt.Errorf("gbfs discovery: %w", err)
	}
	infoURL, statusURL, err := disc.feedURLs()
	if err != nil {
		return nil, err
	}

	var info gbfsStationInformation
	if err := fetchJSON(ctx, client, infoURL, &info); err != nil {
		return nil, fmt.Errorf("station_information: %w", err)
	}
	var status *gbfsStationStatus
	if statusURL != "" {
		status = &gbfsStationStatus{}
		if err := fetchJSON(ctx, client, statusURL, status); err != nil {
			return nil, fmt.Errorf("station_status: %w", err)
		}
	}
	return bikeStations(info, status, prefix), nil
}

func bikeStations(info gbfsStationInformation, status *gbfsStationStatus, prefix string) []domain.POI {
	type live struct {
		bikes, docks int
		renting      bool
	}
	byID := make(map[string]live)
	if status != nil {
		for _, s := range status.Data.Stations {
			byID[s.StationID] = live{s.NumBikesAvailable, s.NumDocksAvailable, truthy(s.IsRenting)}
		}
	}

	pois := make([]domain.POI, 0, len(info.Data.Stations))
	for _, s := range info.Data.Stations {
		if s.StationID == "" || (s.Lat == 0 && s.Lon == 0) {
			continue
		}
		meta := map[string]any{
			"station_id": s.StationID,
			"capacity":   s.Capacity,
		}
		if l, ok := byID[s.StationID]; ok {
			meta["bikes_available"] = l.bikes
			meta["docks_available"] = l.docks
			meta["is_renting"] = l.renting
		}
		pois = append(pois, domain.POI{
			ID:       prefix + ":" + s.StationID,
			Name:     s.Name,
			Category: domain.CategoryBike,
			Location: domain.GeoPoint{Lat: s.Lat, Lon: s.Lon},
			Metadata: meta,
		})
	}
	return pois
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	}
	return true
}

func fetchJSON(ctx context.Context, client *http.Client, url string, v any) error {
	data, err := download(ctx, client, url)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
