package ratelimit

import (
	"strconv"
	"strings"
	"time"
)

// defaultReset is the conservative fallback when a reset header is missing
// components, malformed, or adds up to zero.
const defaultReset = 60 * time.Second

// parseResetDuration converts the backend's relative reset strings ("1s",
// "6m0s", "2h30m15s") into a duration. Hours, minutes, and seconds are
// parsed additively.
func parseResetDuration(s string) time.Duration {
	total := 0.0
	rest := s

	if i := strings.Index(rest, "h"); i >= 0 {
		v, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return defaultReset
		}
		total += v * 3600
		rest = rest[i+1:]
	}

	if i := strings.Index(rest, "m"); i >= 0 {
		v, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return defaultReset
		}
		total += v * 60
		rest = rest[i+1:]
	}

	if i := strings.Index(rest, "s"); i >= 0 {
		v, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return defaultReset
		}
		total += v
	}

	if total == 0 {
		return defaultReset
	}
	return time.Duration(total * float64(time.Second))
}
