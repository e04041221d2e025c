// Package catalog describes the streams the tap can extract and which of
// them, and which of their fields, the user selected.
package catalog

import (
	"net/url"
	"slices"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
)

// ReplicationMethod is the declared replication policy of a stream.
type ReplicationMethod string

const (
	ReplicationFullTable   ReplicationMethod = "FULL_TABLE"
	ReplicationIncremental ReplicationMethod = "INCREMENTAL"
)

// StreamDefinition is the immutable description of one API resource.
type StreamDefinition struct {
	Name string
	Path string
	// DataKey is the payload key holding the record list. Empty means the
	// payload itself is the record (or list of records).
	DataKey           string
	KeyProperties     []string
	ReplicationMethod ReplicationMethod
	// ReplicationKeys lists candidate bookmark fields; only the first is used.
	ReplicationKeys []string
	// BookmarkQueryField is the request parameter carrying the last bookmark
	// upstream on the first page request.
	BookmarkQueryField string
	BookmarkType       checkpoint.BookmarkType
	StaticParams       url.Values
	// ParentStream names the stream a dependent sub-stream hangs off. The
	// engine injects <ParentStream>_id into each record when set.
	ParentStream string
}

// BookmarkField returns the field tracked as the bookmark, or "".
func (d StreamDefinition) BookmarkField() string {
	if len(d.ReplicationKeys) == 0 {
		return ""
	}
	return d.ReplicationKeys[0]
}

// IsKeyProperty reports whether field is part of the primary key.
func (d StreamDefinition) IsKeyProperty(field string) bool {
	return slices.Contains(d.KeyProperties, field)
}

// Stream pairs a definition with its schema and the user's selection.
type Stream struct {
	Definition StreamDefinition
	Schema     *Schema
	Selected   bool
	// SelectedFields is nil when every field is selected.
	SelectedFields []string
}

// Catalog is the read-only, ordered set of streams for a run.
type Catalog struct {
	streams []Stream
}

// New builds a catalog; order is preserved as the sync order.
func New(streams ...Stream) *Catalog {
	return &Catalog{streams: slices.Clone(streams)}
}

// Streams returns every stream in declared order.
func (c *Catalog) Streams() []Stream { return slices.Clone(c.streams) }

// Selected returns selected streams in declared order.
func (c *Catalog) Selected() []Stream {
	var out []Stream
	for _, s := range c.streams {
		if s.Selected {
			out = append(out, s)
		}
	}
	return out
}

// Stream looks up a stream by name.
func (c *Catalog) Stream(name string) (Stream, bool) {
	for _, s := range c.streams {
		if s.Definition.Name == name {
			return s, true
		}
	}
	return Stream{}, false
}
