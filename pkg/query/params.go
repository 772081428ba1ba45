package query

import (
	"fmt"
	"strconv"
	"time"
)

// parseHours reads a non-negative integer no larger than maxHours, falling
// back to def when empty
func parseHours(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	hours, err := strconv.Atoi(v)
	if err != nil || hours < 0 || hours > maxHours {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHours, v)
	}
	return hours, nil
}

// parseTime accepts RFC3339 (with or without fractional seconds) or unix seconds
func parseTime(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts.UTC(), nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339 or unix seconds", v)
}

// parseDuration reads a Go duration, falling back to def when empty
func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
