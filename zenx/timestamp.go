// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package zenx

import (
	"encoding/json"
	"strconv"
	"time"
)

// msThreshold disambiguates epoch seconds from epoch milliseconds. Numeric
// timestamps below the threshold are interpreted as seconds. 1e12 ms is
// September 2001, and 1e12 seconds is some 30,000 years out, so any plausible
// wallet timestamp lands on the intended side.
const msThreshold = 1e12

// NormalizeTimestamp converts a backend timestamp to a time.Time. Backends have
// been observed sending epoch seconds, epoch milliseconds, and ISO-8601
// strings, and the strings sometimes hold a stringified number. Numeric values
// are disambiguated by magnitude. The zero time is returned for anything
// unintelligible.
func NormalizeTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return timeFromEpoch(num)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return time.Time{}
	}
	if num, err := strconv.ParseFloat(s, 64); err == nil && num > 0 {
		return timeFromEpoch(num)
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// timeFromEpoch interprets the numeric value as epoch seconds or milliseconds
// by magnitude.
func timeFromEpoch(num float64) time.Time {
	if num <= 0 {
		return time.Time{}
	}
	ms := int64(num)
	if num < msThreshold {
		ms = int64(num * 1000)
	}
	return time.UnixMilli(ms).UTC()
}
