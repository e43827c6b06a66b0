package proximity

import (
	"slices"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/pkg/geospatial"
)

// Rank computes the distance from loc to every POI, sorts ascending (stable)
// and selects the closest entity. A closest POI at exactly zero distance
// yields no directional target, so closestID is empty; an empty list does too.
// The input slice is left untouched.
func Rank(pois []domain.POI, loc domain.Location) ([]domain.POI, string) {
	ranked := make([]domain.POI, len(pois))
	for i, p := range pois {
		d := geospatial.Haversine(loc.Lat, loc.Lon, p.Location.Lat, p.Location.Lon)
		p.Distance = &d
		p.DistanceLabel = geospatial.FormatDistance(d)
		ranked[i] = p
	}

	slices.SortStableFunc(ranked, func(a, b domain.POI) int {
		switch {
		case *a.Distance < *b.Distance:
			return -1
		case *a.Distance > *b.Distance:
			return 1
		}
		return 0
	})

	if len(ranked) == 0 || *ranked[0].Distance == 0 {
		return ranked, ""
	}
	return ranked, ranked[0].ID
}
