package anonymizer

import (
	"math"
	"strings"
	"time"

	"github.com/inferloop/deident/pkg/models"
)

var (
	monthFirstLayouts = []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006/01/02",
		"01/02/2006",
		"01/02/2006 15:04",
		"02-01-2006",
	}
	dayFirstLayouts = []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006/01/02",
		"02/01/2006",
		"02/01/2006 15:04",
		"02-01-2006",
	}
)

// parseDate reads a date-like cell. Undefined or unparseable cells return false.
func parseDate(v models.Value, dayFirst bool) (time.Time, bool) {
	if !v.Valid {
		return time.Time{}, false
	}
	s := strings.TrimSpace(v.Text)
	if s == "" {
		return time.Time{}, false
	}

	layouts := monthFirstLayouts
	if dayFirst {
		layouts = dayFirstLayouts
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// wholeDays is the floored number of days from start to end.
func wholeDays(start, end time.Time) float64 {
	return math.Floor(end.Sub(start).Hours() / 24)
}
