package timeutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CanonicalLayout is the serialized form of every emitted datetime.
const CanonicalLayout = time.RFC3339Nano

var errNotTimestamp = errors.New("not a recognizable timestamp")

// layouts accepted for string timestamps, tried in order.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339-like strings, date-only strings and
// integer epoch seconds (as numbers or digit-only strings) and returns the
// instant in UTC. Strings without a zone are read as UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		return parseString(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return time.Unix(i, 0).UTC(), nil
		}
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", errNotTimestamp, val.String())
		}
		return fromFloat(f)
	case int:
		return time.Unix(int64(val), 0).UTC(), nil
	case int64:
		return time.Unix(val, 0).UTC(), nil
	case float64:
		return fromFloat(val)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", errNotTimestamp, v)
	}
}

// FormatTimestamp renders t in the canonical UTC form.
func FormatTimestamp(t time.Time) string { return t.UTC().Format(CanonicalLayout) }

func parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", errNotTimestamp)
	}
	if isDigits(s) {
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", errNotTimestamp, s)
		}
		return time.Unix(i, 0).UTC(), nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", errNotTimestamp, s)
}

func fromFloat(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("%w: %v", errNotTimestamp, f)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func isDigits(s string) bool {
	start := 0
	if s[0] == '-' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	for _, r := range s[start:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
