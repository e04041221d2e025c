// Package extract holds the ports and error taxonomy shared by the sync
// engine and its adapters.
package extract

import (
	"context"
	"net/url"
	"time"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
)

// Request describes one page fetch.
type Request struct {
	// Stream is carried for error context and telemetry only.
	Stream string
	Path   string
	Query  url.Values
	// DataKey names the payload key holding the record list.
	DataKey string
}

// Fetcher performs one authenticated GET against the upstream API and
// decodes the response. Transient failures are retried internally; whatever
// is returned is final.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Page, error)
}

// Sink receives the emitted message stream. Calls are order sensitive: a
// stream's schema must precede its records, and the last state wins.
type Sink interface {
	EmitSchema(ctx context.Context, stream string, schema *catalog.Schema, keyProperties, bookmarkProperties []string) error
	EmitRecord(ctx context.Context, stream string, record map[string]any, extractedAt time.Time) error
	checkpoint.Emitter
}
