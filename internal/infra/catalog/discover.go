package catalog

import (
	"fmt"
	"sort"
)

// Discover builds the catalog document for every registered stream. Nothing
// is selected; the user opts streams and fields in.
func Discover() (*Document, error) {
	doc := &Document{}
	for _, def := range Definitions() {
		schema, err := LoadSchema(def.Name)
		if err != nil {
			return nil, err
		}

		streamMD := map[string]any{
			mdTableKeyProperties:      def.KeyProperties,
			mdForcedReplicationMethod: string(def.ReplicationMethod),
			mdInclusion:               inclusionAvailable,
			mdSelectedByDefault:       false,
		}
		if len(def.ReplicationKeys) > 0 {
			streamMD[mdValidReplicationKeys] = def.ReplicationKeys
		}
		metadata := []MetadataEntry{{Breadcrumb: []string{}, Metadata: streamMD}}

		fields := make([]string, 0, len(schema.Properties))
		for field := range schema.Properties {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		for _, field := range fields {
			inclusion := inclusionAvailable
			if def.IsKeyProperty(field) || field == def.BookmarkField() {
				inclusion = inclusionAutomatic
			}
			metadata = append(metadata, MetadataEntry{
				Breadcrumb: []string{"properties", field},
				Metadata:   map[string]any{mdInclusion: inclusion},
			})
		}

		doc.Streams = append(doc.Streams, Entry{
			TapStreamID:   def.Name,
			Stream:        def.Name,
			KeyProperties: def.KeyProperties,
			Schema:        schema,
			Metadata:      metadata,
		})
	}
	if len(doc.Streams) == 0 {
		return nil, fmt.Errorf("no streams registered")
	}
	return doc, nil
}
