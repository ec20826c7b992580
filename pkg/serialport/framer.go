package serialport

import (
	"fmt"
	"strings"
)

// FramingMode selects how a byte stream is cut into lines
type FramingMode string

const (
	// FramingLegacy splits every read on its own. An unterminated tail is emitted as a line of
	// its own, so a sentence spread over two reads arrives as two broken lines.
	FramingLegacy FramingMode = "legacy"

	// FramingBuffered keeps an unterminated tail until the next terminator arrives
	FramingBuffered FramingMode = "buffered"

	// maxPending caps the buffered tail, NMEA sentences are at most 82 characters
	maxPending = 1024
)

func ParseFramingMode(s string) (FramingMode, error) {
	switch FramingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FramingLegacy:
		return FramingLegacy, nil
	case FramingBuffered:
		return FramingBuffered, nil
	}
	return "", fmt.Errorf("unknown framing mode %q", s)
}

// Framer turns chunks of bytes into lines, it is not safe for concurrent use
type Framer struct {
	mode    FramingMode
	pending string
}

func NewFramer(mode FramingMode) *Framer {
	if mode != FramingBuffered {
		mode = FramingLegacy
	}
	return &Framer{mode: mode}
}

// Push consumes one read and returns the lines it completes.
// Lines are split on "\r\n", "\r" and "\n". In legacy mode empty segments are returned
// as well, consumers are expected to skip them.
func (f *Framer) Push(data []byte) []string {
	if f.mode == FramingLegacy {
		return splitLines(string(data))
	}

	segments := splitLines(f.pending + string(data))

	// the last segment has no terminator yet
	f.pending = segments[len(segments)-1]
	if len(f.pending) > maxPending {
		f.pending = ""
	}

	lines := make([]string, 0, len(segments)-1)
	for _, s := range segments[:len(segments)-1] {
		if s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}
