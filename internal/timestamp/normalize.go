// Package timestamp coerces the date representations found on the activity
// queue and in the store into canonical UTC instants.
//
// The zero time.Time is the sentinel for "no usable instant". Normalize never
// fails: absent, empty, malformed or unsupported values all map to the
// sentinel, and callers decide what to substitute for it.
package timestamp

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Normalize returns value as a UTC instant, or the zero time when value is
// absent or cannot be interpreted. Strings without a zone are read as UTC.
func Normalize(value any) time.Time {
	switch v := value.(type) {
	case nil:
		return time.Time{}
	case string:
		return parseString(v)
	case *string:
		if v == nil {
			return time.Time{}
		}
		return parseString(*v)
	case time.Time:
		return fromTime(v)
	case *time.Time:
		if v == nil {
			return time.Time{}
		}
		return fromTime(*v)
	case bson.DateTime:
		return fromTime(v.Time())
	default:
		return time.Time{}
	}
}

// OrNow normalizes value and substitutes now (in UTC) for the sentinel.
func OrNow(value any, now time.Time) time.Time {
	if t := Normalize(value); !t.IsZero() {
		return t
	}
	return now.UTC()
}

// IsSentinel reports whether t is the "no usable instant" marker.
func IsSentinel(t time.Time) bool {
	return t.IsZero()
}

func parseString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	// RFC 3339 covers what the desktop producer sends; dateparse handles the rest.
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return fromTime(t)
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return fromTime(t)
}

func fromTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
