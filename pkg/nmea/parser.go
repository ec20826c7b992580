// Package nmea decodes NMEA 0183 sentences into typed field updates.
//
// Supported sentences are RMC, GGA, GLL, GSA and GSV from any talker (GP, GN, GL, ...).
// The parser does no I/O and keeps no state between lines.
package nmea

import (
	"strings"
	"time"
)

const (
	TypeRMC = "RMC"
	TypeGGA = "GGA"
	TypeGLL = "GLL"
	TypeGSA = "GSA"
	TypeGSV = "GSV"

	// talker (2) + type (3)
	identifierLength = 5
)

type decoder func(p *Parser, f fields) ([]Update, error)

var decoders = map[string]decoder{
	TypeRMC: (*Parser).decodeRMC,
	TypeGGA: (*Parser).decodeGGA,
	TypeGLL: (*Parser).decodeGLL,
	TypeGSA: (*Parser).decodeGSA,
	TypeGSV: (*Parser).decodeGSV,
}

// Parser turns sentences into updates. The zero value is ready to use.
type Parser struct {
	// RequireChecksum rejects sentences without a '*' checksum instead of parsing them unverified
	RequireChecksum bool

	// Now provides the calendar date for RMC time-of-day values, defaults to time.Now
	Now func() time.Time

	// the current sentence date, only valid during a Parse call
	date time.Time
}

var defaultParser Parser

// Parse decodes a line with the default parser settings
func Parse(line string) ([]Update, error) {
	return defaultParser.Parse(line)
}

// Parse decodes one line.
//
// ErrChecksumMismatch and ErrUnrecognized (see IsDropped) mean the line should be
// skipped silently. A *FieldParseError means a field was malformed, no updates are
// returned for that line in any error case.
func (p *Parser) Parse(line string) ([]Update, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return p.parse(line, now())
}

// ParseSentence decodes a received sentence, its arrival time supplies the calendar date
func (p *Parser) ParseSentence(s Sentence) ([]Update, error) {
	return p.parse(s.Text, s.Received)
}

func (p *Parser) parse(line string, received time.Time) ([]Update, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nil, ErrUnrecognized
	}

	body, cs, hasChecksum := splitChecksum(line)
	if hasChecksum {
		if !checksumMatches(body, cs) {
			return nil, ErrChecksumMismatch
		}
	} else if p.RequireChecksum {
		return nil, ErrMissingChecksum
	}

	f := fields(strings.Split(body, ","))
	sentenceType, ok := identify(f[0])
	if !ok {
		return nil, ErrUnrecognized
	}

	decode, ok := decoders[sentenceType]
	if !ok {
		return nil, ErrUnrecognized
	}

	// Work on a copy so concurrent callers of a shared Parser do not race on the date
	c := *p
	c.date = received.UTC()
	return decode(&c, f)
}

// identify returns the sentence type for identifiers like GPRMC or GNGSA
func identify(id string) (string, bool) {
	if len(id) != identifierLength {
		return "", false
	}
	for i := 0; i < 2; i++ {
		if id[i] < 'A' || id[i] > 'Z' {
			return "", false
		}
	}
	return id[2:], true
}

// fields is the comma split sentence, index 0 is the identifier without '$'
type fields []string

// get returns the trimmed field or "" if the sentence is too short
func (f fields) get(i int) string {
	if i < 0 || i >= len(f) {
		return ""
	}
	return strings.TrimSpace(f[i])
}

// present reports whether all given fields are non-empty
func (f fields) present(idx ...int) bool {
	for _, i := range idx {
		if f.get(i) == "" {
			return false
		}
	}
	return true
}
