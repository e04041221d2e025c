package catalog

import (
	"context"
	"sort"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
)

// Resolve combines the registry with a user catalog document. The result
// follows registry order; streams in the document that the registry does not
// know are skipped with a warning.
func Resolve(ctx context.Context, doc *Document, log *logger.Logger) (*catalog.Catalog, error) {
	entries := make(map[string]Entry, len(doc.Streams))
	for _, e := range doc.Streams {
		entries[e.name()] = e
	}

	var streams []catalog.Stream
	for _, def := range Definitions() {
		schema, err := LoadSchema(def.Name)
		if err != nil {
			return nil, err
		}

		entry, ok := entries[def.Name]
		delete(entries, def.Name)
		if !ok {
			streams = append(streams, catalog.Stream{Definition: def, Schema: schema})
			continue
		}
		if entry.Schema != nil {
			schema = entry.Schema
		}

		streams = append(streams, catalog.Stream{
			Definition:     def,
			Schema:         schema,
			Selected:       isSelected(entry.streamMetadata()),
			SelectedFields: selectedFields(def, entry, schema),
		})
	}

	if log != nil {
		for name := range entries {
			log.Warn(ctx, "ignoring unknown stream in catalog", "stream", name)
		}
	}
	return catalog.New(streams...), nil
}

// SelectAll returns the registry with every stream and field selected.
func SelectAll() (*catalog.Catalog, error) {
	var streams []catalog.Stream
	for _, def := range Definitions() {
		schema, err := LoadSchema(def.Name)
		if err != nil {
			return nil, err
		}
		streams = append(streams, catalog.Stream{Definition: def, Schema: schema, Selected: true})
	}
	return catalog.New(streams...), nil
}

func isSelected(md map[string]any) bool {
	if v, ok := md[mdSelected].(bool); ok {
		return v
	}
	v, _ := md[mdSelectedByDefault].(bool)
	return v
}

// selectedFields applies field metadata. Fields without metadata are kept,
// automatic fields, key properties and the bookmark field are always kept,
// and a nil result means "all fields".
func selectedFields(def catalog.StreamDefinition, entry Entry, schema *catalog.Schema) []string {
	fieldMD := entry.fieldMetadata()
	if len(fieldMD) == 0 {
		return nil
	}

	fields := make([]string, 0, len(schema.Properties))
	for field := range schema.Properties {
		md, ok := fieldMD[field]
		if !ok || def.IsKeyProperty(field) || field == def.BookmarkField() {
			fields = append(fields, field)
			continue
		}
		inclusion, _ := md[mdInclusion].(string)
		switch {
		case inclusion == inclusionUnsupported:
		case inclusion == inclusionAutomatic:
			fields = append(fields, field)
		case isSelected(md):
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return fields
}
