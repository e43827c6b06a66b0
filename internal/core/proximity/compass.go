package proximity

import (
	"math"
	"time"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/pkg/geospatial"
)

const (
	DefaultCompassMinInterval = 250 * time.Millisecond
	DefaultCompassMinDelta    = 10.0 // degrees
)

// DeclinationFunc computes magnetic declination in degrees at a location.
type DeclinationFunc func(lat, lon, altitude float64, at time.Time) (float64, error)

// CompassConfig tunes the compass change thresholds.
type CompassConfig struct {
	MinInterval time.Duration
	MinDelta    float64
	Declination DeclinationFunc // defaults to geospatial.Declination
}

// CompassState is the threshold state carried between updates.
type CompassState struct {
	LastChange  time.Time
	LastDegrees int
}

// CompassUpdater turns orientation samples into per-POI arrow rotations.
// Declination is cached for the last location and only recomputed when the
// location changes. Not safe for concurrent use; it belongs to one engine.
type CompassUpdater struct {
	cfg CompassConfig

	declFor *domain.Location
	decl    float64
	declErr error
}

// NewCompassUpdater applies defaults to zero config fields.
func NewCompassUpdater(cfg CompassConfig) *CompassUpdater {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultCompassMinInterval
	}
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = DefaultCompassMinDelta
	}
	if cfg.Declination == nil {
		cfg.Declination = geospatial.Declination
	}
	return &CompassUpdater{cfg: cfg}
}

// Update applies a new orientation sample when it passes the thresholds.
// A zero reading means the sensor has not warmed up yet. It returns whether
// the rotations were recomputed and the threshold state to carry forward.
func (c *CompassUpdater) Update(
	pois []domain.POI,
	loc *domain.Location,
	degrees float64,
	now time.Time,
	scroll domain.ScrollState,
	st CompassState,
) (bool, CompassState) {
	if scroll != domain.ScrollIdle || degrees == 0 || loc == nil {
		return false, st
	}
	if now.Sub(st.LastChange) < c.cfg.MinInterval {
		return false, st
	}
	if math.Abs(float64(st.LastDegrees)-degrees) < c.cfg.MinDelta {
		return false, st
	}
	if err := c.Rotate(pois, *loc, degrees); err != nil {
		return false, st
	}
	return true, CompassState{LastChange: now, LastDegrees: int(degrees)}
}

// Rotate sets every POI's rotation from the device azimuth (magnetic,
// degrees) without applying thresholds.
func (c *CompassUpdater) Rotate(pois []domain.POI, loc domain.Location, degrees float64) error {
	decl, err := c.declination(loc)
	if err != nil {
		return err
	}
	heading := degrees + decl
	for i := range pois {
		p := pois[i].Location
		bearing := geospatial.InitialBearing(loc.Lat, loc.Lon, p.Lat, p.Lon)
		pois[i].Rotation = &domain.Rotation{Degrees: geospatial.NormalizeDegrees(bearing - heading)}
	}
	return nil
}

func (c *CompassUpdater) declination(loc domain.Location) (float64, error) {
	if c.declFor != nil && c.declFor.SamePosition(loc) {
		return c.decl, c.declErr
	}
	c.decl, c.declErr = c.cfg.Declination(loc.Lat, loc.Lon, loc.Altitude, loc.Time)
	c.declFor = &loc
	return c.decl, c.declErr
}
