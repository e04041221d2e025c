package extract

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PageKind discriminates the decoded shape of a fetched payload.
type PageKind int

const (
	// PageRecords carries zero or more records and maybe a cursor.
	PageRecords PageKind = iota
	// PageEmpty is an absent or empty payload. The pagination loop stops cleanly.
	PageEmpty
)

func (k PageKind) String() string {
	switch k {
	case PageRecords:
		return "records"
	case PageEmpty:
		return "empty"
	default:
		return fmt.Sprintf("PageKind(%d)", int(k))
	}
}

// Page is one decoded API response. Error responses never become a Page; the
// transport returns them as typed errors instead.
type Page struct {
	Kind    PageKind
	Records []map[string]any
	// NextCursor is the raw pagination cursor, empty on the last page.
	NextCursor string
}

// EmptyPage is the clean termination signal.
func EmptyPage() Page { return Page{Kind: PageEmpty} }

// RecordsPage builds a record-bearing page.
func RecordsPage(records []map[string]any, next string) Page {
	return Page{Kind: PageRecords, Records: records, NextCursor: next}
}

// HasNext reports whether another page should be requested.
func (p Page) HasNext() bool { return p.Kind == PageRecords && p.NextCursor != "" }

// Cursor is a decoded next_page value. Params holds every query parameter the
// API put in the cursor except page, which is validated separately.
type Cursor struct {
	Page   int
	Params url.Values
}

// ParseCursor decodes a next_page value. The value is either a URL carrying a
// `page` query parameter or a bare positive integer.
func ParseCursor(raw string) (Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Cursor{}, fmt.Errorf("%w: empty", ErrInvalidCursor)
	}

	candidate := raw
	var params url.Values
	if _, err := strconv.Atoi(raw); err != nil {
		u, err := url.Parse(raw)
		if err != nil {
			return Cursor{}, fmt.Errorf("%w: %q: %v", ErrInvalidCursor, raw, err)
		}
		params = u.Query()
		candidate = params.Get("page")
		if candidate == "" {
			return Cursor{}, fmt.Errorf("%w: %q has no page parameter", ErrInvalidCursor, raw)
		}
		params.Del("page")
	}

	n, err := strconv.Atoi(candidate)
	if err != nil || n < 1 {
		return Cursor{}, fmt.Errorf("%w: %q is not a positive page number", ErrInvalidCursor, raw)
	}
	return Cursor{Page: n, Params: params}, nil
}
