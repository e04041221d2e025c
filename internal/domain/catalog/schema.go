package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Schema is the subset of JSON Schema the record transformer understands.
// The original document is retained so emitted schemas are byte-for-byte what
// was loaded, including keywords this type ignores.
type Schema struct {
	Type                 []string           `json:"-"`
	Format               string             `json:"format,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	AnyOf                []*Schema          `json:"anyOf,omitempty"`
	AdditionalProperties bool               `json:"-"`

	raw json.RawMessage
}

// ParseSchema decodes a JSON schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &s, nil
}

// HasType reports whether t is among the declared types.
func (s *Schema) HasType(t string) bool { return slices.Contains(s.Type, t) }

// Nullable reports whether null is an accepted value.
func (s *Schema) Nullable() bool { return len(s.Type) == 0 || s.HasType("null") }

// IsDatetime reports whether the schema declares a date-time string.
func (s *Schema) IsDatetime() bool { return s.Format == "date-time" && s.HasType("string") }

type schemaAlias Schema

// UnmarshalJSON accepts "type" as either a string or a list of strings, and
// "additionalProperties" as either a bool or a schema (treated as true).
func (s *Schema) UnmarshalJSON(data []byte) error {
	var aux struct {
		*schemaAlias
		Type                 json.RawMessage `json:"type"`
		AdditionalProperties json.RawMessage `json:"additionalProperties"`
	}
	aux.schemaAlias = (*schemaAlias)(s)
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.Type = nil
	if len(aux.Type) > 0 {
		var one string
		if err := json.Unmarshal(aux.Type, &one); err == nil {
			s.Type = []string{one}
		} else if err := json.Unmarshal(aux.Type, &s.Type); err != nil {
			return fmt.Errorf("schema type must be a string or list of strings: %w", err)
		}
	}

	s.AdditionalProperties = false
	if ap := bytes.TrimSpace(aux.AdditionalProperties); len(ap) > 0 && !bytes.Equal(ap, []byte("false")) {
		s.AdditionalProperties = true
	}

	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the document the schema was parsed from, or a
// reconstruction when the schema was built in code.
func (s *Schema) MarshalJSON() ([]byte, error) {
	if len(s.raw) > 0 {
		return s.raw, nil
	}

	out := struct {
		*schemaAlias
		Type                 any  `json:"type,omitempty"`
		AdditionalProperties bool `json:"additionalProperties,omitempty"`
	}{schemaAlias: (*schemaAlias)(s), AdditionalProperties: s.AdditionalProperties}
	switch len(s.Type) {
	case 0:
	case 1:
		out.Type = s.Type[0]
	default:
		out.Type = s.Type
	}
	return json.Marshal(out)
}
