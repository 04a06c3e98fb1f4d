package store

import (
	"fmt"
	"strings"
	"time"
)

// ParseDatePrecision parses a MusicBrainz-style date string of precision
// "YYYY", "YYYY-MM", or "YYYY-MM-DD" and returns the start-of-period-fill
// normalized date (§3 "Date precision"). An empty string returns the zero
// time and false.
func ParseDatePrecision(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	parts := strings.Split(raw, "-")
	var year, month, day int
	month, day = 1, 1
	if _, err := fmt.Sscanf(parts[0], "%04d", &year); err != nil {
		return time.Time{}, false
	}
	if len(parts) >= 2 {
		if _, err := fmt.Sscanf(parts[1], "%02d", &month); err != nil {
			return time.Time{}, false
		}
	}
	if len(parts) >= 3 {
		if _, err := fmt.Sscanf(parts[2], "%02d", &day); err != nil {
			return time.Time{}, false
		}
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// PrefixCompatible reports whether two raw date strings are compatible in
// the §4.G sense: one is a prefix of the other, treating empty/null on
// either side as compatible.
func PrefixCompatible(a, b *string) bool {
	if a == nil || b == nil || *a == "" || *b == "" {
		return true
	}
	return strings.HasPrefix(*a, *b) || strings.HasPrefix(*b, *a)
}

// Refines reports whether candidate strictly refines stored: candidate is
// non-nil, non-empty, and strictly longer than stored (§4.G step 4). A
// nil/empty stored value is always refined by any non-empty candidate.
func Refines(stored, candidate *string) bool {
	if candidate == nil || *candidate == "" {
		return false
	}
	if stored == nil {
		return true
	}
	return len(*candidate) > len(*stored)
}
