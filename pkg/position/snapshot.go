package position

import (
	"fmt"
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/nmea"
)

// Record is an emitted copy of the snapshot, sinks must treat it as read only
type Record struct {
	// ID is assigned when the record is emitted and never reused
	ID string

	Latitude  float64
	Longitude float64

	HDOP float64
	VDOP float64
	PDOP float64

	Speed     float64
	SpeedUnit SpeedUnit
	// Bearing in degrees, 0-360
	Bearing float64

	FixAcquired      bool
	SatellitesInView int

	// DeviceTime is the last UTC time reported by the receiver
	DeviceTime time.Time
	// Timestamp is the arrival time of the last position fix
	Timestamp time.Time
}

func (r Record) String() string {
	return fmt.Sprintf("%s Lat/Lon: %f,%f, Heading: %.1fdeg @ %.2f%s",
		r.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"), r.Latitude, r.Longitude, r.Bearing, r.Speed, r.SpeedUnit)
}

// Snapshot is the live accumulator, Dirty is set by every position fix since the last emit
type Snapshot struct {
	Record
	Dirty bool

	// Satellites of the last complete GSV cycle, not part of the emitted record
	Satellites []nmea.Satellite
}

// take returns the record to emit and resets the accumulator
func (s *Snapshot) take(id string) Record {
	r := s.Record
	r.ID = id

	s.Dirty = false
	s.ID = ""
	return r
}
