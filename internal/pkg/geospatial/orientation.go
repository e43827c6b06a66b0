package geospatial

import (
	"errors"
	"math"
)

// ErrFreeFall is returned when the sensor vectors cannot define a rotation
// (device in free fall or pointing at magnetic north along gravity).
var ErrFreeFall = errors.New("sensor vectors cannot define a rotation")

// Azimuth fuses a gravity (accelerometer) sample and a geomagnetic
// (magnetometer) sample, both in device coordinates, into the device
// azimuth in degrees [0, 360) clockwise from magnetic north.
func Azimuth(gravity, geomagnetic [3]float64) (float64, error) {
	ax, ay, az := gravity[0], gravity[1], gravity[2]
	ex, ey, ez := geomagnetic[0], geomagnetic[1], geomagnetic[2]

	normG := ax*ax + ay*ay + az*az
	if normG < 0.01*9.81*9.81 {
		return 0, ErrFreeFall
	}

	// H = E x A points east.
	hx := ey*az - ez*ay
	hy := ez*ax - ex*az
	hz := ex*ay - ey*ax
	normH := math.Sqrt(hx*hx + hy*hy + hz*hz)
	if normH < 0.1 {
		return 0, ErrFreeFall
	}
	hx, hy = hx/normH, hy/normH
	hz /= normH

	invA := 1 / math.Sqrt(normG)
	ax, ay, az = ax*invA, ay*invA, az*invA

	// M = A x H points north.
	my := az*hx - ax*hz

	return NormalizeDegrees(toDeg(math.Atan2(hy, my))), nil
}
