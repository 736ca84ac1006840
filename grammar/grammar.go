// Package grammar parses the two small textual grammars the request
// payloads carry: human-readable byte sizes ("2.5M", "1tb") and
// partition UUIDs ("random" or a canonical 8-4-4-4-12 hex string).
//
// No library in the example corpus parses either grammar — dustin/
// go-humanize (wired elsewhere in this engine) only formats byte
// counts for display, it has no inverse parser, and a bespoke
// two-rule grammar like this does not warrant pulling in a general
// units-parsing dependency. Grounded on parse_size_bytes/validate_uuid
// in the original helper; the multiplier table and floor-not-round
// behavior are carried over exactly.
package grammar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSize parses the size grammar `<number>[b|k|kb|m|mb|g|gb|t|tb]`,
// case-insensitive, fractional numbers allowed, result floored to the
// nearest byte.
func ParseSize(value string) (uint64, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return 0, fmt.Errorf("empty size")
	}

	i := 0
	for i < len(trimmed) && (isDigit(trimmed[i]) || trimmed[i] == '.') {
		i++
	}
	numPart, suffix := trimmed[:i], strings.TrimSpace(trimmed[i:])

	number, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %q", value)
	}

	var multiplier float64
	switch suffix {
	case "b", "":
		multiplier = 1
	case "k", "kb":
		multiplier = 1024
	case "m", "mb":
		multiplier = 1024 * 1024
	case "g", "gb":
		multiplier = 1024 * 1024 * 1024
	case "t", "tb":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size suffix: %q", suffix)
	}

	return uint64(math.Floor(number * multiplier)), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// AlignDownMiB floors value to the nearest 1 MiB boundary, the
// sector-alignment floor used throughout resize/move.
func AlignDownMiB(value uint64) uint64 {
	const mib = 1024 * 1024
	return value / mib * mib
}

// ValidateUUID accepts the literal "random" or a canonical
// 8-4-4-4-12 hyphen-separated hex string; any other shape is rejected.
func ValidateUUID(uuid string) error {
	if uuid == "random" {
		return nil
	}
	groups := strings.Split(uuid, "-")
	wantLengths := []int{8, 4, 4, 4, 12}
	if len(groups) != len(wantLengths) {
		return fmt.Errorf("invalid UUID format: %q", uuid)
	}
	for i, g := range groups {
		if len(g) != wantLengths[i] || !isHex(g) {
			return fmt.Errorf("invalid UUID format: %q", uuid)
		}
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
