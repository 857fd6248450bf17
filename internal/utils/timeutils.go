package utils

import (
	"fmt"
	"time"
)

// FormatTS renders a timestamp for storage. All persisted times are UTC
// RFC3339Nano so lexical and chronological order agree.
func FormatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTS parses a timestamp previously written with FormatTS.
func ParseTS(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}
