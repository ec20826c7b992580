package position

import (
	"fmt"
	"math"
	"time"
)

// EarthRadius is the mean earth radius in meters
const EarthRadius = 6371008.8

// Fix is a position at the time it was received
type Fix struct {
	Lat  float64
	Lon  float64
	Time time.Time
}

// Motion is derived from two fixes, distance in meters, speed in m/s and bearing in degrees.
// Bearing is undefined when Distance is 0.
type Motion struct {
	Distance float64
	Speed    float64
	Bearing  float64
}

// InvalidTimingError is returned when the second fix is not later than the first
type InvalidTimingError struct {
	Elapsed time.Duration
}

func (e *InvalidTimingError) Error() string {
	return fmt.Sprintf("invalid time between fixes: %v", e.Elapsed)
}

func (e *InvalidTimingError) Is(tgt error) bool {
	_, ok := tgt.(*InvalidTimingError)
	return ok
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Distance returns the great circle distance in meters (haversine)
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return EarthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InitialBearing is the forward azimuth from point 1 towards point 2 in [0, 360)
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dLambda := radians(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return math.Mod(degrees(math.Atan2(y, x))+360, 360)
}

// FinalBearing is the heading on arrival at point 2 in [0, 360)
func FinalBearing(lat1, lon1, lat2, lon2 float64) float64 {
	return math.Mod(InitialBearing(lat2, lon2, lat1, lon1)+180, 360)
}

// ComputeMotion derives speed and heading from two consecutive fixes
func ComputeMotion(prev Fix, cur Fix) (Motion, error) {
	elapsed := cur.Time.Sub(prev.Time)
	if elapsed <= 0 {
		return Motion{}, &InvalidTimingError{Elapsed: elapsed}
	}

	distance := Distance(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
	m := Motion{
		Distance: distance,
		Speed:    distance / elapsed.Seconds(),
	}
	if distance > 0 {
		m.Bearing = FinalBearing(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
	}
	return m, nil
}
