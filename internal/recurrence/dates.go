package recurrence

import (
	"errors"
	"strings"
	"time"
)

// dateLayouts are tried in order. Zone-less layouts parse as UTC, so
// date-only values never cross a DST boundary.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
}

var errEmptyDate = errors.New("empty date")

// ParseDate parses a stored transaction date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyDate
	}
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
