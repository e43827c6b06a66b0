package geospatial

import "fmt"

// FormatDistance renders a distance for display: whole meters below one
// kilometer, one decimal kilometer above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
