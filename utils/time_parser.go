package utils

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationComponent = regexp.MustCompile(`(\d+) *([DdHhMmSs])`)

// ParseDuration parses strings like "5d2h15m45s". Components may repeat and
// appear in any order; anything that is not a component is ignored. A string
// without a single component, or one too large for a Duration, is an error.
func ParseDuration(s string) (time.Duration, error) {
	matches := durationComponent.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	var total time.Duration
	for _, m := range matches {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration value %q: %w", m[1], err)
		}
		var unit time.Duration
		switch strings.ToLower(m[2]) {
		case "d":
			unit = 24 * time.Hour
		case "h":
			unit = time.Hour
		case "m":
			unit = time.Minute
		case "s":
			unit = time.Second
		}
		// Both the component and the running sum must fit in a Duration.
		if n > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("duration component %q is too large", m[0])
		}
		part := time.Duration(n) * unit
		if total > math.MaxInt64-part {
			return 0, fmt.Errorf("duration %q is too large", s)
		}
		total += part
	}
	return total, nil
}

// FormatDuration describes d in words, e.g. "3 hours, 4 minutes and 5
// seconds". Zero units are left out and sub-second precision is dropped.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "0 seconds"
	}

	units := []struct {
		name string
		size int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	var parts []string
	for _, u := range units {
		if n := secs / u.size; n > 0 {
			parts = append(parts, Plural(int(n), u.name))
			secs %= u.size
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

// Plural returns "1 squid" or "8 squids".
func Plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
