// Package timestamp provides standardized Unix timestamp handling utilities.
//
// The canonical timestamp format is int64 milliseconds since the Unix epoch
// (UTC). Captured packets arrive with timestamps in milliseconds, seconds, or
// numeric strings depending on the reporting node; Normalize folds all of
// them into canonical milliseconds so downstream consumers can rely on one
// representation.
//
// Zero Value Semantics:
//   - A timestamp value of 0 means "not set" or "unknown"
//   - Functions handle zero values gracefully, returning appropriate defaults
package timestamp

import (
	"strconv"
	"time"
)

// secondsThreshold is the magnitude below which a numeric timestamp is
// interpreted as seconds rather than milliseconds. Kept at 10^11 for wire
// compatibility with the node fleet, even though it misclassifies epoch
// values before ~1973 or after ~5138.
const secondsThreshold = 100_000_000_000

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to RFC3339 string for display.
// Returns empty string if timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Normalize converts a raw timestamp value to Unix milliseconds.
// Supports:
//   - int64/int/float64 (below the seconds threshold the value is treated as
//     seconds and scaled to milliseconds)
//   - string holding an integer or float value (same scaling rule)
//
// Unparseable or missing values fall back to fallbackMs, which callers set to
// the local receipt time. The conversion is deterministic and has no side
// effects beyond the substitution.
func Normalize(raw any, fallbackMs int64) int64 {
	if raw == nil {
		return fallbackMs
	}

	switch v := raw.(type) {
	case int64:
		return scale(v)
	case int:
		return scale(int64(v))
	case int32:
		return scale(int64(v))
	case float64:
		return scale(int64(v))
	case float32:
		return scale(int64(v))
	case string:
		if v == "" {
			return fallbackMs
		}
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			return scale(ts)
		}
		if ts, err := strconv.ParseFloat(v, 64); err == nil {
			return scale(int64(ts))
		}
		return fallbackMs
	default:
		return fallbackMs
	}
}

// scale applies the seconds-vs-milliseconds heuristic.
func scale(v int64) int64 {
	if v < secondsThreshold {
		return v * 1000
	}
	return v
}

// Since returns the duration since the given timestamp.
// Returns 0 if timestamp is zero.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}
