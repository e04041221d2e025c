package checkpoint

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/NickLeoMartin/tap-persistiq/pkg/common/timeutil"
)

// BookmarkType governs how bookmark values are compared and serialized.
type BookmarkType string

const (
	BookmarkDatetime BookmarkType = "datetime"
	BookmarkInteger  BookmarkType = "integer"
)

// Bookmark is a typed bookmark value. The zero Bookmark is "unset" and
// compares lower than every set value.
type Bookmark struct {
	typ BookmarkType
	t   time.Time
	n   int64
}

// DatetimeBookmark returns a datetime bookmark normalized to UTC.
func DatetimeBookmark(t time.Time) Bookmark {
	return Bookmark{typ: BookmarkDatetime, t: t.UTC()}
}

// IntegerBookmark returns an integer bookmark.
func IntegerBookmark(n int64) Bookmark {
	return Bookmark{typ: BookmarkInteger, n: n}
}

// ParseBookmark interprets a raw value (from a record or a persisted state)
// as a bookmark of the given type.
func ParseBookmark(typ BookmarkType, v any) (Bookmark, error) {
	switch typ {
	case BookmarkDatetime:
		t, err := timeutil.ParseTimestamp(v)
		if err != nil {
			return Bookmark{}, fmt.Errorf("parse datetime bookmark: %w", err)
		}
		return DatetimeBookmark(t), nil
	case BookmarkInteger:
		n, err := toInt64(v)
		if err != nil {
			return Bookmark{}, fmt.Errorf("parse integer bookmark: %w", err)
		}
		return IntegerBookmark(n), nil
	default:
		return Bookmark{}, fmt.Errorf("unknown bookmark type %q", typ)
	}
}

// IsZero reports whether the bookmark is unset.
func (b Bookmark) IsZero() bool { return b.typ == "" }

// Type returns the bookmark's type.
func (b Bookmark) Type() BookmarkType { return b.typ }

// Less reports whether b sorts strictly before o. Unset bookmarks sort first.
// Comparing bookmarks of different types is a programming error and panics.
func (b Bookmark) Less(o Bookmark) bool {
	switch {
	case o.IsZero():
		return false
	case b.IsZero():
		return true
	case b.typ != o.typ:
		panic(fmt.Sprintf("checkpoint: comparing %s bookmark with %s bookmark", b.typ, o.typ))
	case b.typ == BookmarkDatetime:
		return b.t.Before(o.t)
	default:
		return b.n < o.n
	}
}

// Max returns the larger of b and o.
func (b Bookmark) Max(o Bookmark) Bookmark {
	if b.Less(o) {
		return o
	}
	return b
}

// Value returns the persisted form: a canonical UTC string for datetimes and
// an int64 for integers.
func (b Bookmark) Value() any {
	switch b.typ {
	case BookmarkDatetime:
		return timeutil.FormatTimestamp(b.t)
	case BookmarkInteger:
		return b.n
	default:
		return nil
	}
}

// Time returns the datetime value. Only meaningful for datetime bookmarks.
func (b Bookmark) Time() time.Time { return b.t }

// Int returns the integer value. Only meaningful for integer bookmarks.
func (b Bookmark) Int() int64 { return b.n }

func (b Bookmark) String() string {
	if b.IsZero() {
		return "<unset>"
	}
	return fmt.Sprint(b.Value())
}

// MarshalJSON emits the persisted form.
func (b Bookmark) MarshalJSON() ([]byte, error) { return json.Marshal(b.Value()) }

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", val.String())
		}
		return integralFloat(f)
	case float64:
		return integralFloat(val)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", val)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported integer bookmark type %T", v)
	}
}

func integralFloat(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}
