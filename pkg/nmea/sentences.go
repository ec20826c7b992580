package nmea

import (
	"errors"
	"strconv"
	"time"
)

var errBadTime = errors.New("invalid time of day")

// decodePosition emits a fix only when value and hemisphere of both axes are present
func decodePosition(sentence string, f fields, lat, latHemi, lon, lonHemi int) ([]Update, error) {
	if !f.present(lat, latHemi, lon, lonHemi) {
		return nil, nil
	}

	latDeg, err := DecodeLatitude(f.get(lat), f.get(latHemi))
	if err != nil {
		return nil, fieldError(sentence, lat, f.get(lat)+","+f.get(latHemi), err)
	}

	lonDeg, err := DecodeLongitude(f.get(lon), f.get(lonHemi))
	if err != nil {
		return nil, fieldError(sentence, lon, f.get(lon)+","+f.get(lonHemi), err)
	}

	return []Update{PositionFix{Lat: latDeg, Lon: lonDeg}}, nil
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	$GPRMC,093652.00,A,0843.89597,S,11510.24425,E,0.022,,131018,,,D*6D
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3,4: latitude, N/S
//	5,6: longitude, E/W
//	7: speed over ground (knots)
//	8: track angle (deg)
//	9: date (ddmmyy), unused
func (p *Parser) decodeRMC(f fields) ([]Update, error) {
	out, err := decodePosition(TypeRMC, f, 3, 4, 5, 6)
	if err != nil {
		return nil, err
	}

	if v := f.get(1); v != "" {
		utc, err := p.timeOfDay(v)
		if err != nil {
			return nil, fieldError(TypeRMC, 1, v, err)
		}
		out = append(out, TimeUpdate{UTC: utc})
	}

	if v := f.get(7); v != "" {
		speed, err := parseNumber(v)
		if err != nil {
			return nil, fieldError(TypeRMC, 7, v, err)
		}
		out = append(out, SpeedUpdate{Value: speed})
	}

	if v := f.get(8); v != "" {
		bearing, err := parseNumber(v)
		if err != nil {
			return nil, fieldError(TypeRMC, 8, v, err)
		}
		out = append(out, BearingUpdate{Degrees: bearing})
	}

	switch f.get(2) {
	case "A":
		out = append(out, FixStatus{Acquired: true})
	case "V":
		out = append(out, FixStatus{Acquired: false})
	}

	return out, nil
}

// timeOfDay combines hhmmss[.sss] with the date of the sentence
func (p *Parser) timeOfDay(v string) (time.Time, error) {
	if len(v) < 6 {
		return time.Time{}, errBadTime
	}

	var hms [3]int
	for i := range hms {
		n, err := strconv.Atoi(v[i*2 : i*2+2])
		if err != nil {
			return time.Time{}, err
		}
		hms[i] = n
	}
	if hms[0] > 23 || hms[1] > 59 || hms[2] > 60 {
		return time.Time{}, errBadTime
	}

	var nanos int
	if len(v) > 6 {
		if v[6] != '.' {
			return time.Time{}, errBadTime
		}
		frac, err := parseNumber("0" + v[6:])
		if err != nil {
			return time.Time{}, err
		}
		nanos = int(frac * float64(time.Second))
	}

	d := p.date
	return time.Date(d.Year(), d.Month(), d.Day(), hms[0], hms[1], hms[2], nanos, time.UTC), nil
}

// GGA: Global Positioning System Fix Data
//
//	$GPGGA,093651.00,0843.89598,S,11510.24426,E,2,09,0.87,14.6,M,21.3,M,,0000*77
//	2,3: latitude, N/S
//	4,5: longitude, E/W
//
// Fix quality, satellites used and altitude are not decoded.
func (p *Parser) decodeGGA(f fields) ([]Update, error) {
	return decodePosition(TypeGGA, f, 2, 3, 4, 5)
}

// GLL: Geographic Position
//
//	$GPGLL,0843.89598,S,11510.24426,E,093651.00,A,D*71
func (p *Parser) decodeGLL(f fields) ([]Update, error) {
	return decodePosition(TypeGLL, f, 1, 2, 3, 4)
}

// GSA: DOP and active satellites, fields 15-17 are PDOP, HDOP and VDOP
func (p *Parser) decodeGSA(f fields) ([]Update, error) {
	var out []Update
	for i, kind := range []DOPKind{PDOP, HDOP, VDOP} {
		idx := 15 + i
		v := f.get(idx)
		if v == "" {
			continue
		}

		value, err := parseNumber(v)
		if err != nil {
			return nil, fieldError(TypeGSA, idx, v, err)
		}
		out = append(out, DOPUpdate{Kind: kind, Value: value})
	}
	return out, nil
}

const (
	gsvMessages      = 1
	gsvMessage       = 2
	gsvInView        = 3
	gsvFirstBlock    = 4
	gsvBlockSize     = 4
	gsvBlocksPerLine = 4
)

// GSV: Satellites in view
//
//	$GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74
//	1: number of messages, 2: message number, 3: satellites in view
//	4..: up to four blocks of PRN, elevation, azimuth, SNR
func (p *Parser) decodeGSV(f fields) ([]Update, error) {
	view := SatelliteView{}

	for _, field := range []struct {
		idx int
		dst *int
	}{
		{gsvMessages, &view.Messages},
		{gsvMessage, &view.Message},
		{gsvInView, &view.InView},
	} {
		idx := field.idx
		v := f.get(idx)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fieldError(TypeGSV, idx, v, err)
		}
		*field.dst = n
	}

	for block := 0; block < gsvBlocksPerLine; block++ {
		start := gsvFirstBlock + block*gsvBlockSize
		if !f.present(start, start+1, start+2, start+3) {
			continue
		}

		var values [gsvBlockSize]int
		for i := range values {
			v := f.get(start + i)
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fieldError(TypeGSV, start+i, v, err)
			}
			values[i] = n
		}

		view.Satellites = append(view.Satellites, Satellite{
			PRN:       values[0],
			Elevation: values[1],
			Azimuth:   values[2],
			SNR:       values[3],
		})
	}

	return []Update{view}, nil
}
