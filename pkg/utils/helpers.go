package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration like "5m". A bare number is taken as
// seconds and an empty string yields def.
func ParseDuration(d string, def time.Duration) (time.Duration, error) {
	d = strings.TrimSpace(d)
	if d == "" {
		return def, nil
	}
	if secs, err := strconv.ParseInt(d, 10, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", d)
		}
		return time.Duration(secs) * time.Second, nil
	}
	duration, err := time.ParseDuration(d)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", d)
	}
	if duration < 0 {
		return 0, fmt.Errorf("negative duration %q", d)
	}
	return duration, nil
}

// ParseBool parses a flag value; an empty string yields def
func ParseBool(s string, def bool) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return b, nil
}
