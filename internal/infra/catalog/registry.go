// Package catalog holds the static PersistIQ stream registry, the embedded
// JSON schemas, discovery output and loading of a user-selected catalog file.
package catalog

import (
	"embed"
	"fmt"
	"net/url"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// definitions is the registry, in sync order.
var definitions = []catalog.StreamDefinition{
	{
		Name:              "users",
		Path:              "users",
		DataKey:           "users",
		KeyProperties:     []string{"id"},
		ReplicationMethod: catalog.ReplicationFullTable,
	},
	{
		// Leads is re-read in full each run, but bounded by the newest
		// updated_at seen so far (start_date on the first run).
		Name:               "leads",
		Path:               "leads",
		DataKey:            "leads",
		KeyProperties:      []string{"id"},
		ReplicationMethod:  catalog.ReplicationFullTable,
		ReplicationKeys:    []string{"updated_at"},
		BookmarkQueryField: "updated_after",
		BookmarkType:       checkpoint.BookmarkDatetime,
	},
	{
		Name:              "campaigns",
		Path:              "campaigns",
		DataKey:           "campaigns",
		KeyProperties:     []string{"id"},
		ReplicationMethod: catalog.ReplicationFullTable,
	},
}

// Definitions returns a copy of the registry in declared order.
func Definitions() []catalog.StreamDefinition {
	out := make([]catalog.StreamDefinition, len(definitions))
	for i, d := range definitions {
		d.KeyProperties = append([]string(nil), d.KeyProperties...)
		d.ReplicationKeys = append([]string(nil), d.ReplicationKeys...)
		if d.StaticParams != nil {
			d.StaticParams = cloneValues(d.StaticParams)
		}
		out[i] = d
	}
	return out
}

// Definition looks up a stream by name.
func Definition(name string) (catalog.StreamDefinition, bool) {
	for _, d := range Definitions() {
		if d.Name == name {
			return d, true
		}
	}
	return catalog.StreamDefinition{}, false
}

// LoadSchema returns the embedded schema for stream.
func LoadSchema(stream string) (*catalog.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + stream + ".json")
	if err != nil {
		return nil, fmt.Errorf("no schema for stream %q: %w", stream, err)
	}
	return catalog.ParseSchema(data)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
