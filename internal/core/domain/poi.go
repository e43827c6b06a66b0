package domain

import (
	"fmt"
	"math"
	"strings"
)

// Category groups points of interest that are searched together.
type Category string

const (
	CategoryBus       Category = "bus"
	CategorySubway    Category = "subway"
	CategoryBike      Category = "bike"
	CategoryRouteStop Category = "route_stop"
)

// Categories lists every known category.
var Categories = []Category{CategoryBus, CategorySubway, CategoryBike, CategoryRouteStop}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// POI is a stop, station or dockable bike station.
type POI struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Category      Category       `json:"category"`
	Location      GeoPoint       `json:"location"`
	Distance      *float64       `json:"distance,omitempty"` // meters, computed field
	DistanceLabel string         `json:"distance_label,omitempty"`
	Rotation      *Rotation      `json:"rotation,omitempty"`
	IsFavorite    bool           `json:"is_favorite"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Rotation is the compass arrow state for a POI: the clockwise angle, in
// degrees, between the top of the device and the direction of the POI.
type Rotation struct {
	Degrees float64 `json:"degrees"`
}

// Matrix returns the 2D rotation matrix for the angle.
func (r Rotation) Matrix() [2][2]float64 {
	rad := r.Degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return [2][2]float64{
		{cos, -sin},
		{sin, cos},
	}
}
