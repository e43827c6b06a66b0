package geospatial

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// ErrDegenerate is returned when declination is undefined at a coordinate,
// e.g. at a geographic pole or where the horizontal field is too weak.
var ErrDegenerate = errors.New("declination undefined at coordinate")

// BlackoutFieldStrength is the horizontal field strength (nT) below which
// the World Magnetic Model declares compass headings unreliable.
const BlackoutFieldStrength = 2000.0

// wmmMu serializes model evaluation: the wmm package caches the last
// location and its Legendre tables in unguarded package state.
var wmmMu sync.Mutex

// Declination returns the magnetic declination in degrees (positive east)
// at a WGS84 position, altitude in meters above the ellipsoid and instant,
// from the World Magnetic Model. A zero instant means now. Dates past the
// validity window of the built-in coefficients are extrapolated with the
// model's secular variation.
func Declination(lat, lon, altitude float64, at time.Time) (float64, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsNaN(altitude) || math.Abs(lat) >= 90-1e-9 {
		return 0, ErrDegenerate
	}
	if at.IsZero() {
		at = time.Now()
	}

	wmmMu.Lock()
	// The only error is the informational validity-window one.
	field, _ := wmm.CalculateWMMMagneticField(egm96.NewLocationGeodetic(lat, lon, altitude), at.UTC())
	wmmMu.Unlock()

	d := field.D()
	if math.IsNaN(d) || math.IsInf(d, 0) || field.H() < BlackoutFieldStrength {
		return 0, ErrDegenerate
	}
	return d, nil
}
