// Package sink writes the tap's output stream: Singer messages on stdout,
// optionally mirrored to Kafka, with the checkpoint optionally mirrored to a
// state repository.
package sink

import (
	"encoding/json"
	"time"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/timeutil"
)

// MessageType is the Singer message discriminator.
type MessageType string

const (
	MessageSchema MessageType = "SCHEMA"
	MessageRecord MessageType = "RECORD"
	MessageState  MessageType = "STATE"
)

type schemaMessage struct {
	Type               MessageType     `json:"type"`
	Stream             string          `json:"stream"`
	Schema             *catalog.Schema `json:"schema"`
	KeyProperties      []string        `json:"key_properties"`
	BookmarkProperties []string        `json:"bookmark_properties,omitempty"`
}

type recordMessage struct {
	Type          MessageType    `json:"type"`
	Stream        string         `json:"stream"`
	Record        map[string]any `json:"record"`
	TimeExtracted string         `json:"time_extracted,omitempty"`
}

type stateMessage struct {
	Type  MessageType       `json:"type"`
	Value *checkpoint.State `json:"value"`
}

func encodeSchema(stream string, schema *catalog.Schema, keyProperties, bookmarkProperties []string) ([]byte, error) {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return json.Marshal(schemaMessage{
		Type:               MessageSchema,
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keyProperties,
		BookmarkProperties: bookmarkProperties,
	})
}

func encodeRecord(stream string, record map[string]any, extractedAt time.Time) ([]byte, error) {
	msg := recordMessage{Type: MessageRecord, Stream: stream, Record: record}
	if !extractedAt.IsZero() {
		msg.TimeExtracted = timeutil.FormatTimestamp(extractedAt)
	}
	return json.Marshal(msg)
}

func encodeState(state *checkpoint.State) ([]byte, error) {
	if state == nil {
		state = checkpoint.NewState()
	}
	return json.Marshal(stateMessage{Type: MessageState, Value: state})
}
