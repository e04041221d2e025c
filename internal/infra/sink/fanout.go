package sink

import (
	"context"
	"time"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/extract"
)

// Fanout delivers every message to each sink in order and stops at the first
// failure.
type Fanout []extract.Sink

func (f Fanout) EmitSchema(ctx context.Context, stream string, schema *catalog.Schema, keyProperties, bookmarkProperties []string) error {
	for _, s := range f {
		if err := s.EmitSchema(ctx, stream, schema, keyProperties, bookmarkProperties); err != nil {
			return err
		}
	}
	return nil
}

func (f Fanout) EmitRecord(ctx context.Context, stream string, record map[string]any, extractedAt time.Time) error {
	for _, s := range f {
		if err := s.EmitRecord(ctx, stream, record, extractedAt); err != nil {
			return err
		}
	}
	return nil
}

func (f Fanout) EmitState(ctx context.Context, state *checkpoint.State) error {
	for _, s := range f {
		if err := s.EmitState(ctx, state); err != nil {
			return err
		}
	}
	return nil
}
