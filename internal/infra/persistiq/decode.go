package persistiq

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/extract"
)

const nextPageField = "next_page"

// decodePage turns a 2xx body into a Page. Records are found under
// req.DataKey when present; a bare object is a single record and a bare
// list is the record list.
func decodePage(req extract.Request, body []byte) (extract.Page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return extract.EmptyPage(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return extract.Page{}, extract.NewDataIntegrityError(req.Stream, "", "response is not valid JSON", err)
	}

	switch v := payload.(type) {
	case map[string]any:
		if len(v) == 0 {
			return extract.EmptyPage(), nil
		}
		next, err := nextCursor(req, v)
		if err != nil {
			return extract.Page{}, err
		}
		if req.DataKey != "" {
			if nested, ok := v[req.DataKey]; ok {
				records, err := toRecords(req, nested)
				if err != nil {
					return extract.Page{}, err
				}
				return extract.RecordsPage(records, next), nil
			}
		}
		return extract.RecordsPage([]map[string]any{v}, next), nil
	case []any:
		records, err := toRecords(req, v)
		if err != nil {
			return extract.Page{}, err
		}
		return extract.RecordsPage(records, ""), nil
	default:
		return extract.Page{}, extract.NewDataIntegrityError(req.Stream, "", fmt.Sprintf("unexpected payload of type %T", payload), nil)
	}
}

func nextCursor(req extract.Request, payload map[string]any) (string, error) {
	raw, ok := payload[nextPageField]
	if !ok || raw == nil {
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", extract.NewDataIntegrityError(req.Stream, nextPageField, fmt.Sprintf("unexpected cursor of type %T", raw), extract.ErrInvalidCursor)
	}
}

func toRecords(req extract.Request, v any) ([]map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{val}, nil
	case []any:
		records := make([]map[string]any, 0, len(val))
		for i, item := range val {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, extract.NewDataIntegrityError(req.Stream, fmt.Sprintf("%s[%d]", req.DataKey, i), fmt.Sprintf("record is a %T, not an object", item), nil)
			}
			records = append(records, rec)
		}
		return records, nil
	default:
		return nil, extract.NewDataIntegrityError(req.Stream, req.DataKey, fmt.Sprintf("unexpected records container of type %T", v), nil)
	}
}
