package nmea

import (
	"fmt"
	"strconv"
	"strings"
)

// Checksum returns the XOR of all bytes of the sentence between the leading
// '$' and the '*' (both excluded) formatted as two uppercase hex digits.
func Checksum(sentence string) string {
	body, _, _ := splitChecksum(sentence)
	return fmt.Sprintf("%02X", xor(body))
}

// IsValid returns true if the sentence carries a checksum and it matches.
// Sentences without '*' can not be verified and are not valid.
func IsValid(sentence string) bool {
	body, cs, ok := splitChecksum(sentence)
	if !ok {
		return false
	}
	return checksumMatches(body, cs)
}

// splitChecksum returns the payload without '$' and the text behind '*'
func splitChecksum(sentence string) (body string, cs string, hasChecksum bool) {
	body = strings.TrimPrefix(sentence, "$")
	star := strings.IndexByte(body, '*')
	if star == -1 {
		return body, "", false
	}
	return body[:star], strings.TrimSpace(body[star+1:]), true
}

func checksumMatches(body string, cs string) bool {
	if len(cs) != 2 {
		return false
	}
	want, err := strconv.ParseUint(cs, 16, 8)
	if err != nil {
		return false
	}
	return byte(want) == xor(body)
}

func xor(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}
