package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
)

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 3)

	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
		assert.Equal(t, []string{"id"}, d.KeyProperties)
		assert.Equal(t, d.Name, d.DataKey)
	}
	assert.Equal(t, []string{"users", "leads", "campaigns"}, names)

	leads, ok := Definition("leads")
	require.True(t, ok)
	assert.Equal(t, "updated_at", leads.BookmarkField())
	assert.Equal(t, "updated_after", leads.BookmarkQueryField)
	assert.Equal(t, checkpoint.BookmarkDatetime, leads.BookmarkType)

	users, _ := Definition("users")
	assert.Empty(t, users.BookmarkField())

	// Mutating the copy must not leak into the registry.
	defs[0].KeyProperties[0] = "mutated"
	again, _ := Definition("users")
	assert.Equal(t, []string{"id"}, again.KeyProperties)
}

func TestLoadSchema(t *testing.T) {
	for _, d := range Definitions() {
		s, err := LoadSchema(d.Name)
		require.NoError(t, err, d.Name)
		assert.Contains(t, s.Properties, "id")
	}
	_, err := LoadSchema("accounts")
	assert.Error(t, err)
}

func TestDiscover(t *testing.T) {
	doc, err := Discover()
	require.NoError(t, err)
	require.Len(t, doc.Streams, 3)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	streams := generic["streams"].([]any)
	leads := streams[1].(map[string]any)
	assert.Equal(t, "leads", leads["tap_stream_id"])

	parsed, err := ParseDocument(data)
	require.NoError(t, err)
	entry := parsed.Streams[1]
	md := entry.streamMetadata()
	assert.Equal(t, "FULL_TABLE", md[mdForcedReplicationMethod])
	assert.Equal(t, []any{"updated_at"}, md[mdValidReplicationKeys])
	assert.Equal(t, false, md[mdSelectedByDefault])

	fields := entry.fieldMetadata()
	assert.Equal(t, inclusionAutomatic, fields["id"][mdInclusion])
	assert.Equal(t, inclusionAutomatic, fields["updated_at"][mdInclusion])
	assert.Equal(t, inclusionAvailable, fields["bounced"][mdInclusion])
}

func selectStream(doc *Document, name string, fields map[string]bool) {
	for i := range doc.Streams {
		e := &doc.Streams[i]
		if e.name() != name {
			continue
		}
		for j := range e.Metadata {
			m := &e.Metadata[j]
			if len(m.Breadcrumb) == 0 {
				m.Metadata[mdSelected] = true
				continue
			}
			if sel, ok := fields[m.Breadcrumb[1]]; ok {
				m.Metadata[mdSelected] = sel
			}
		}
	}
}

func TestResolve(t *testing.T) {
	doc, err := Discover()
	require.NoError(t, err)

	selectStream(doc, "campaigns", nil)
	selectStream(doc, "leads", map[string]bool{"bounced": true, "status": false, "id": false})
	doc.Streams = append(doc.Streams, Entry{TapStreamID: "accounts"})

	cat, err := Resolve(context.Background(), doc, logger.Noop())
	require.NoError(t, err)

	var selected []string
	for _, s := range cat.Selected() {
		selected = append(selected, s.Definition.Name)
	}
	assert.Equal(t, []string{"leads", "campaigns"}, selected)

	leads, ok := cat.Stream("leads")
	require.True(t, ok)
	assert.Contains(t, leads.SelectedFields, "id", "key properties are always kept")
	assert.Contains(t, leads.SelectedFields, "updated_at", "bookmark field is always kept")
	assert.Contains(t, leads.SelectedFields, "bounced")
	assert.NotContains(t, leads.SelectedFields, "status")
	assert.NotContains(t, leads.SelectedFields, "optedout")

	users, ok := cat.Stream("users")
	require.True(t, ok)
	assert.False(t, users.Selected)
}

func TestResolve_NoFieldMetadataSelectsEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"streams":[
		{"tap_stream_id":"users","stream":"users","metadata":[{"breadcrumb":[],"metadata":{"selected":true}}]}
	]}`), 0o600))

	doc, err := LoadDocument(path)
	require.NoError(t, err)

	cat, err := Resolve(context.Background(), doc, logger.Noop())
	require.NoError(t, err)

	users, _ := cat.Stream("users")
	assert.True(t, users.Selected)
	assert.Nil(t, users.SelectedFields)
	assert.NotNil(t, users.Schema)
}

func TestSelectAll(t *testing.T) {
	cat, err := SelectAll()
	require.NoError(t, err)
	assert.Len(t, cat.Selected(), 3)
}

func TestLoadDocument_Errors(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`{"streams":`))
	assert.Error(t, err)
}
