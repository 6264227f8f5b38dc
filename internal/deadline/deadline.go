// Package deadline normalizes extracted deadline strings. When a listing
// carries no parseable deadline, a deterministic synthetic one is derived
// from the source URL so repeated extraction of the same page converges on
// the same date.
package deadline

import (
	"hash/fnv"
	"strings"
	"time"
)

const (
	// Accepted window around now for a parsed deadline.
	pastWindow   = -1 // years
	futureWindow = 5  // years

	// Synthetic fallback range, in days from now.
	syntheticMinDays  = 30
	syntheticSpanDays = 335 // [30, 365)

	// DateLayout is the calendar-date output format.
	DateLayout = "2006-01-02"
)

var parseLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"01/02/2006",
	"2006/01/02",
	"January 2 2006",
}

// Normalize parses a raw deadline string and returns a calendar date.
// A parsed date is accepted only when it falls within [-1y, +5y] of now;
// otherwise a synthetic deadline is derived from sourceURL. Pure and
// deterministic given (raw, sourceURL, now).
func Normalize(raw, sourceURL string, now time.Time) string {
	if parsed, ok := parse(raw); ok && inWindow(parsed, now) {
		return parsed.Format(DateLayout)
	}
	return Synthetic(sourceURL, now)
}

// Synthetic maps the URL's characters to a day offset in [30, 365) from now.
func Synthetic(sourceURL string, now time.Time) string {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(sourceURL))
	offset := syntheticMinDays + int(hasher.Sum32()%syntheticSpanDays)
	return now.UTC().AddDate(0, 0, offset).Format(DateLayout)
}

func parse(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

func inWindow(deadline, now time.Time) bool {
	lower := now.UTC().AddDate(pastWindow, 0, 0)
	upper := now.UTC().AddDate(futureWindow, 0, 0)
	return !deadline.Before(lower) && !deadline.After(upper)
}
