package domain

import "time"

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a single device fix as reported by a location provider.
// It is treated as an immutable value.
type Location struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Accuracy float64   `json:"accuracy"` // meters, 68% confidence radius
	Altitude float64   `json:"altitude,omitempty"`
	Time     time.Time `json:"time"`
	Provider string    `json:"provider,omitempty"`
}

// Point returns the coordinate of the fix.
func (l Location) Point() GeoPoint {
	return GeoPoint{Lat: l.Lat, Lon: l.Lon}
}

// SamePosition reports whether two fixes describe the same place at the same
// instant. Accuracy and provider are ignored.
func (l Location) SamePosition(o Location) bool {
	return l.Lat == o.Lat && l.Lon == o.Lon && l.Altitude == o.Altitude && l.Time.Equal(o.Time)
}
