package position

import (
	"fmt"
	"strings"
)

// SpeedUnit is the unit speeds are recorded in, receivers report knots
type SpeedUnit string

const (
	Knots             SpeedUnit = "knots"
	MilesPerHour      SpeedUnit = "mph"
	KilometersPerHour SpeedUnit = "kmh"
	MetersPerSecond   SpeedUnit = "mps"

	KnotsToMPH = 1.150779
	KnotsToKMH = 1.852
	KnotsToMPS = 1852.0 / 3600.0
)

func ParseSpeedUnit(s string) (SpeedUnit, error) {
	switch u := SpeedUnit(strings.ToLower(strings.TrimSpace(s))); u {
	case "":
		return MilesPerHour, nil
	case Knots, MilesPerHour, KilometersPerHour, MetersPerSecond:
		return u, nil
	}
	return "", fmt.Errorf("unknown speed unit %q, expected one of knots, mph, kmh, mps", s)
}

// FromKnots converts a receiver speed into this unit
func (u SpeedUnit) FromKnots(v float64) float64 {
	switch u {
	case Knots:
		return v
	case KilometersPerHour:
		return v * KnotsToKMH
	case MetersPerSecond:
		return v * KnotsToMPS
	default:
		return v * KnotsToMPH
	}
}

// FromMetersPerSecond converts a computed speed into this unit
func (u SpeedUnit) FromMetersPerSecond(v float64) float64 {
	if u == MetersPerSecond {
		return v
	}
	return u.FromKnots(v / KnotsToMPS)
}
