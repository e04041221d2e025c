// Package transform coerces raw API records into the shape declared by a
// stream schema. Transform is pure: it never mutates its input.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/timeutil"
)

// TransformError names the field that could not be coerced.
type TransformError struct {
	Path   string
	Value  any
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("field %q: %s (value: %v)", e.Path, e.Reason, e.Value)
}

// Transform returns a new record conforming to schema. Only fields listed in
// selected survive at the top level; a nil selection keeps every field.
// Fields the schema does not declare are dropped unless the schema allows
// additional properties.
func Transform(raw map[string]any, schema *catalog.Schema, selected []string) (map[string]any, error) {
	if schema == nil {
		return nil, &TransformError{Path: "", Value: raw, Reason: "no schema"}
	}

	out := make(map[string]any, len(raw))
	for field, value := range raw {
		if selected != nil && !slices.Contains(selected, field) {
			continue
		}
		prop, declared := schema.Properties[field]
		if !declared {
			if schema.AdditionalProperties {
				out[field] = value
			}
			continue
		}
		v, err := coerce(field, value, prop)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

func coerce(path string, value any, s *catalog.Schema) (any, error) {
	if value == nil {
		if s.Nullable() || (len(s.AnyOf) > 0 && anyNullable(s.AnyOf)) {
			return nil, nil
		}
		return nil, &TransformError{Path: path, Value: value, Reason: "null is not allowed"}
	}

	if len(s.AnyOf) > 0 {
		var firstErr error
		for _, alt := range s.AnyOf {
			v, err := coerce(path, value, alt)
			if err == nil {
				return v, nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return nil, firstErr
	}

	if len(s.Type) == 0 {
		return value, nil
	}

	var firstErr error
	for _, typ := range s.Type {
		if typ == "null" {
			continue
		}
		v, err := coerceAs(path, value, typ, s)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = &TransformError{Path: path, Value: value, Reason: "schema only allows null"}
	}
	return nil, firstErr
}

func anyNullable(alts []*catalog.Schema) bool {
	for _, a := range alts {
		if a.HasType("null") {
			return true
		}
	}
	return false
}

func coerceAs(path string, value any, typ string, s *catalog.Schema) (any, error) {
	switch typ {
	case "string":
		if s.Format == "date-time" {
			return toDatetime(path, value)
		}
		return toString(path, value)
	case "integer":
		return toInteger(path, value)
	case "number":
		return toNumber(path, value)
	case "boolean":
		return toBoolean(path, value)
	case "object":
		return toObject(path, value, s)
	case "array":
		return toArray(path, value, s)
	default:
		return nil, &TransformError{Path: path, Value: value, Reason: fmt.Sprintf("unsupported schema type %q", typ)}
	}
}

func toDatetime(path string, value any) (any, error) {
	t, err := timeutil.ParseTimestamp(value)
	if err != nil {
		return nil, &TransformError{Path: path, Value: value, Reason: "unparseable date-time"}
	}
	return timeutil.FormatTimestamp(t), nil
}

func toString(path string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int, int64, float64:
		return fmt.Sprint(v), nil
	default:
		return nil, &TransformError{Path: path, Value: value, Reason: "expected string"}
	}
}

func toInteger(path string, value any) (any, error) {
	fail := &TransformError{Path: path, Value: value, Reason: "expected integer"}
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fail
		}
		return integral(f, fail)
	case float64:
		return integral(v, fail)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fail
		}
		return n, nil
	default:
		return nil, fail
	}
}

func integral(f float64, fail error) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fail
	}
	return int64(f), nil
}

func toNumber(path string, value any) (any, error) {
	fail := &TransformError{Path: path, Value: value, Reason: "expected number"}
	switch v := value.(type) {
	case json.Number:
		return v, nil
	case int, int64, float64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, fail
		}
		return json.Number(s), nil
	default:
		return nil, fail
	}
}

func toBoolean(path string, value any) (any, error) {
	fail := &TransformError{Path: path, Value: value, Reason: "expected boolean"}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fail
		}
		return b, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fail
		}
		return f != 0, nil
	default:
		return nil, fail
	}
}

func toObject(path string, value any, s *catalog.Schema) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, &TransformError{Path: path, Value: value, Reason: "expected object"}
	}
	if s.Properties == nil {
		return m, nil
	}

	out := make(map[string]any, len(m))
	for field, v := range m {
		prop, declared := s.Properties[field]
		if !declared {
			if s.AdditionalProperties {
				out[field] = v
			}
			continue
		}
		cv, err := coerce(path+"."+field, v, prop)
		if err != nil {
			return nil, err
		}
		out[field] = cv
	}
	return out, nil
}

func toArray(path string, value any, s *catalog.Schema) (any, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, &TransformError{Path: path, Value: value, Reason: "expected array"}
	}

	out := make([]any, len(items))
	for i, item := range items {
		if s.Items == nil {
			out[i] = item
			continue
		}
		v, err := coerce(fmt.Sprintf("%s[%d]", path, i), item, s.Items)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
