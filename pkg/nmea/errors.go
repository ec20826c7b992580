package nmea

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrChecksumMismatch is returned for sentences whose trailing checksum does not match, drop silently
	ErrChecksumMismatch = errors.New("nmea: checksum mismatch")
	// ErrUnrecognized is returned for sentence identifiers that have no decoder, drop silently
	ErrUnrecognized = errors.New("nmea: sentence not recognized")
	// ErrMissingChecksum is only returned when the parser requires checksums
	ErrMissingChecksum = errors.New("nmea: missing checksum")
)

// FieldParseError reports a non-empty field that could not be converted.
// The whole sentence is discarded when this happens.
type FieldParseError struct {
	Sentence string
	Index    int
	Value    string
	Err      error
}

func (e *FieldParseError) Error() string {
	return fmt.Sprintf("nmea: %s field %d: cannot parse %q: %v", e.Sentence, e.Index, e.Value, e.Err)
}

func (e *FieldParseError) Unwrap() error {
	return e.Err
}

func (e *FieldParseError) Is(tgt error) bool {
	_, ok := tgt.(*FieldParseError)
	return ok
}

// IsDropped reports whether err only means the line should be skipped without logging
func IsDropped(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrUnrecognized) || errors.Is(err, ErrMissingChecksum)
}

func fieldError(sentence string, index int, value string, err error) error {
	// strconv errors repeat the input, keep only the reason
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		err = numErr.Err
	}
	return &FieldParseError{Sentence: sentence, Index: index, Value: value, Err: err}
}
