package nmea

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	latDegreeDigits = 2
	lonDegreeDigits = 3

	// Minutes are written with five decimals, that is roughly 2cm of latitude
	minuteDecimals = 5
)

var (
	errShortCoordinate = errors.New("coordinate too short")
	errBadHemisphere   = errors.New("invalid hemisphere")
)

// DecodeLatitude converts DDMM.MMMM plus N/S into signed decimal degrees
func DecodeLatitude(value string, hemisphere string) (float64, error) {
	return decodeCoordinate(value, hemisphere, latDegreeDigits, "N", "S")
}

// DecodeLongitude converts DDDMM.MMMM plus E/W into signed decimal degrees
func DecodeLongitude(value string, hemisphere string) (float64, error) {
	return decodeCoordinate(value, hemisphere, lonDegreeDigits, "E", "W")
}

func decodeCoordinate(value string, hemisphere string, degreeDigits int, positive string, negative string) (float64, error) {
	if len(value) <= degreeDigits {
		return 0, errShortCoordinate
	}

	degrees, err := parseNumber(value[:degreeDigits])
	if err != nil {
		return 0, err
	}

	minutes, err := parseNumber(value[degreeDigits:])
	if err != nil {
		return 0, err
	}

	dec := degrees + minutes/60.0
	switch hemisphere {
	case positive:
		return dec, nil
	case negative:
		return -dec, nil
	default:
		return 0, errBadHemisphere
	}
}

// EncodeLatitude is the inverse of DecodeLatitude
func EncodeLatitude(deg float64) (value string, hemisphere string) {
	hemisphere = "N"
	if deg < 0 {
		hemisphere = "S"
	}
	return encodeCoordinate(deg, latDegreeDigits), hemisphere
}

// EncodeLongitude is the inverse of DecodeLongitude
func EncodeLongitude(deg float64) (value string, hemisphere string) {
	hemisphere = "E"
	if deg < 0 {
		hemisphere = "W"
	}
	return encodeCoordinate(deg, lonDegreeDigits), hemisphere
}

func encodeCoordinate(deg float64, degreeDigits int) string {
	// Round on the total minutes so we never print 60 minutes
	scale := math.Pow10(minuteDecimals)
	total := math.Round(math.Abs(deg)*60*scale) / scale
	whole := math.Floor(total / 60)
	minutes := total - whole*60

	return fmt.Sprintf("%0*d%0*.*f", degreeDigits, int(whole), minuteDecimals+3, minuteDecimals, minutes)
}

// parseNumber only accepts finite numbers with '.' as decimal separator
func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
