// Package units provides shared constants and conversions for nautical units
package units

// Unit constants
const (
	Knots = "kn"
	MPS   = "mps"
	KMPH  = "kmph"
	NM    = "nm"
	KM    = "km"
)

// Conversion factors. Positions are degrees WGS-84, distances nautical
// miles, speeds knots throughout the detection core.
const (
	MetersPerNM   = 1852.0
	KnotsPerMPS   = 1.9438444924406
	KMPerNM       = 1.852
	EarthRadiusNM = 3440.065
)

// ValidSpeedUnits contains all valid speed unit values
var ValidSpeedUnits = []string{Knots, MPS, KMPH}

// IsValidSpeedUnit checks if the given unit is in the list of valid units
func IsValidSpeedUnit(unit string) bool {
	for _, validUnit := range ValidSpeedUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from knots to the target units.
// The detection core stores all speeds over ground in knots.
func ConvertSpeed(speedKn float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedKn / KnotsPerMPS
	case KMPH:
		return speedKn * KMPerNM
	case Knots:
		return speedKn
	default:
		return speedKn
	}
}

// NMToKM converts nautical miles to kilometers.
func NMToKM(nm float64) float64 { return nm * KMPerNM }

// MetersToNM converts meters to nautical miles.
func MetersToNM(m float64) float64 { return m / MetersPerNM }
