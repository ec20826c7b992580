package api

import (
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/position"
)

// PositionUpload is the json body of a position upload
type PositionUpload struct {
	ID               string    `json:"id"`
	Recorder         string    `json:"recorder"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	HDOP             float64   `json:"hdop"`
	VDOP             float64   `json:"vdop"`
	PDOP             float64   `json:"pdop"`
	Speed            float64   `json:"speed"`
	SpeedUnit        string    `json:"speed_unit"`
	Bearing          float64   `json:"bearing"`
	FixAcquired      bool      `json:"fix_acquired"`
	SatellitesInView int       `json:"satellites_in_view"`
	DeviceTime       *int64    `json:"device_time,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

func NewPositionUpload(recorder string, r position.Record) PositionUpload {
	p := PositionUpload{
		ID:               r.ID,
		Recorder:         recorder,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		HDOP:             r.HDOP,
		VDOP:             r.VDOP,
		PDOP:             r.PDOP,
		Speed:            r.Speed,
		SpeedUnit:        string(r.SpeedUnit),
		Bearing:          r.Bearing,
		FixAcquired:      r.FixAcquired,
		SatellitesInView: r.SatellitesInView,
		Timestamp:        r.Timestamp.UTC(),
	}

	// unix seconds, receivers without RMC never report a time
	if !r.DeviceTime.IsZero() {
		ts := r.DeviceTime.Unix()
		p.DeviceTime = &ts
	}

	return p
}
