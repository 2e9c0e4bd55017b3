// Package units provides shared constants and conversion for GPS speeds.
package units

// Unit constants
const (
	Knots = "knots"
	KMH   = "kmh"
	MPH   = "mph"
	MPS   = "mps"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Knots, KMH, MPH, MPS}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "knots, kmh, mph, mps"
}

// ConvertSpeed converts a speed from knots to the target units.
// NMEA receivers report ground speed in knots.
func ConvertSpeed(speedKnots float64, targetUnits string) float64 {
	switch targetUnits {
	case Knots:
		return speedKnots
	case KMH:
		return speedKnots * 1.852
	case MPH:
		return speedKnots * 1.15077944802354
	case MPS:
		return speedKnots * 0.514444444444444
	default:
		return speedKnots
	}
}
