package nmea

import (
	"fmt"
	"time"
)

// Update is a single typed field update decoded from a sentence.
// The concrete types are PositionFix, BearingUpdate, SpeedUpdate, DOPUpdate,
// FixStatus, SatelliteView and TimeUpdate.
type Update interface {
	isUpdate()
}

// PositionFix carries decimal degrees, south and west are negative
type PositionFix struct {
	Lat float64
	Lon float64
}

// BearingUpdate is the track angle in degrees
type BearingUpdate struct {
	Degrees float64
}

// SpeedUpdate is the raw speed over ground as sent by the receiver (knots).
// Converting it is up to the consumer.
type SpeedUpdate struct {
	Value float64
}

type DOPKind byte

const (
	HDOP DOPKind = 'H'
	VDOP DOPKind = 'V'
	PDOP DOPKind = 'P'
)

func (k DOPKind) String() string {
	return string(k) + "DOP"
}

type DOPUpdate struct {
	Kind  DOPKind
	Value float64
}

// FixStatus reports whether the receiver has a satellite lock
type FixStatus struct {
	Acquired bool
}

type Satellite struct {
	PRN       int
	Elevation int
	Azimuth   int
	SNR       int
}

func (s Satellite) String() string {
	return fmt.Sprintf("PRN %d E: %d, A: %d, S2N: %d", s.PRN, s.Elevation, s.Azimuth, s.SNR)
}

// SatelliteView holds the satellites of one GSV sentence, at most four.
// Incomplete blocks are left out, so Satellites may be shorter than four.
// Message counts from 1 to Messages within one cycle, both are 0 when not reported.
type SatelliteView struct {
	Messages   int
	Message    int
	InView     int
	Satellites []Satellite
}

// TimeUpdate is the receiver time-of-day on the calendar date the sentence arrived, in UTC
type TimeUpdate struct {
	UTC time.Time
}

func (PositionFix) isUpdate()   {}
func (BearingUpdate) isUpdate() {}
func (SpeedUpdate) isUpdate()   {}
func (DOPUpdate) isUpdate()     {}
func (FixStatus) isUpdate()     {}
func (SatelliteView) isUpdate() {}
func (TimeUpdate) isUpdate()    {}

// Sentence is a raw line as received from the device
type Sentence struct {
	Text     string
	Received time.Time
}
