package sink

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
)

// Writer emits newline-delimited Singer messages. Each message is written
// with a single Write call so lines never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer over w, usually os.Stdout.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// EmitSchema writes a SCHEMA message for stream.
func (s *Writer) EmitSchema(_ context.Context, stream string, schema *catalog.Schema, keyProperties, bookmarkProperties []string) error {
	b, err := encodeSchema(stream, schema, keyProperties, bookmarkProperties)
	if err != nil {
		return fmt.Errorf("encode schema message: %w", err)
	}
	return s.writeLine(b)
}

// EmitRecord writes one RECORD message stamped with extractedAt.
func (s *Writer) EmitRecord(_ context.Context, stream string, record map[string]any, extractedAt time.Time) error {
	b, err := encodeRecord(stream, record, extractedAt)
	if err != nil {
		return fmt.Errorf("encode record message: %w", err)
	}
	return s.writeLine(b)
}

// EmitState writes the full state as a STATE message.
func (s *Writer) EmitState(_ context.Context, state *checkpoint.State) error {
	b, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("encode state message: %w", err)
	}
	return s.writeLine(b)
}

func (s *Writer) writeLine(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := make([]byte, 0, len(b)+1)
	line = append(line, b...)
	line = append(line, '\n')
	_, err := s.w.Write(line)
	return err
}
