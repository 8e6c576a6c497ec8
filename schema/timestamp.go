// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package schema

import (
	"strings"
	"time"
)

// Timestamps are kept in UTC without a timezone. The sentinel dates
// 0000-00-00 and 9999-99-99 map to the minimum and maximum
// representable timestamps.
var (
	MinTimestamp = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTimestamp = time.Date(9999, time.December, 31, 23, 59, 59, 999999000, time.UTC)
)

const (
	timestampFormat      = "2006-01-02T15:04:05.000000"
	timestampShortFormat = "2006-01-02T15:04:05"
	dateFormat           = "2006-01-02"
)

// FormatTimestamp renders a timestamp the way the catalogue and the
// expression language expect it: ISO date-time with microseconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

// ParseTimestamp accepts an ISO timestamp with optional microseconds, a
// bare date, and the min/max sentinel dates.
func ParseTimestamp(text string) (time.Time, error) {
	switch {
	case strings.HasPrefix(text, "0000-00-00"):
		return MinTimestamp, nil
	case strings.HasPrefix(text, "9999-99-99"):
		return MaxTimestamp, nil
	}
	normalized := strings.Replace(text, " ", "T", 1)
	for _, format := range []string{timestampFormat, timestampShortFormat, dateFormat} {
		if t, err := time.ParseInLocation(format, normalized, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrSchema.New("invalid timestamp: %q", text)
}
