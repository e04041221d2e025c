package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
)

// Document is the Singer catalog file format.
type Document struct {
	Streams []Entry `json:"streams"`
}

// Entry is one stream in a catalog document.
type Entry struct {
	TapStreamID   string          `json:"tap_stream_id"`
	Stream        string          `json:"stream"`
	KeyProperties []string        `json:"key_properties"`
	Schema        *catalog.Schema `json:"schema"`
	Metadata      []MetadataEntry `json:"metadata"`
}

// MetadataEntry attaches metadata to a breadcrumb: [] for the stream itself,
// ["properties", <field>] for a field.
type MetadataEntry struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// Metadata keys.
const (
	mdSelected                = "selected"
	mdSelectedByDefault       = "selected-by-default"
	mdInclusion               = "inclusion"
	mdTableKeyProperties      = "table-key-properties"
	mdForcedReplicationMethod = "forced-replication-method"
	mdValidReplicationKeys    = "valid-replication-keys"

	inclusionAutomatic   = "automatic"
	inclusionAvailable   = "available"
	inclusionUnsupported = "unsupported"
)

func (e Entry) name() string {
	if e.TapStreamID != "" {
		return e.TapStreamID
	}
	return e.Stream
}

// streamMetadata returns the metadata map for the empty breadcrumb.
func (e Entry) streamMetadata() map[string]any {
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) == 0 {
			return m.Metadata
		}
	}
	return nil
}

// fieldMetadata maps field names to their metadata.
func (e Entry) fieldMetadata() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) == 2 && m.Breadcrumb[0] == "properties" {
			out[m.Breadcrumb[1]] = m.Metadata
		}
	}
	return out
}

// ParseDocument decodes a Singer catalog.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &doc, nil
}

// LoadDocument reads a catalog file from disk.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseDocument(data)
}
