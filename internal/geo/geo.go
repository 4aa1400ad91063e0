// Package geo provides the spherical geometry and spatial/temporal bucketing
// primitives shared by the detectors.
package geo

import (
	"math"

	"github.com/radiance-data/radiancefleet/internal/units"
)

// HaversineNM returns the great-circle distance in nautical miles between
// two WGS-84 points.
func HaversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return units.EarthRadiusNM * c
}

// InitialBearing returns the initial great-circle bearing in degrees
// [0, 360) from point 1 toward point 2.
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	theta := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(theta+360, 360)
}

// HeadingDelta returns the absolute angular difference between two headings,
// normalized to [0, 180].
func HeadingDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// ImpliedSpeedKn returns the speed in knots implied by covering the
// great-circle distance between two points in the given elapsed seconds.
// Returns +Inf when elapsed is zero or negative.
func ImpliedSpeedKn(lat1, lon1, lat2, lon2 float64, elapsedSec float64) float64 {
	if elapsedSec <= 0 {
		return math.Inf(1)
	}
	return HaversineNM(lat1, lon1, lat2, lon2) / (elapsedSec / 3600)
}

// ValidLatLon reports whether the coordinates are inside the WGS-84 range.
func ValidLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
