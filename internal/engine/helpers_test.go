package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/extract"
	"github.com/NickLeoMartin/tap-persistiq/internal/engine/metrics"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/timeutil"
)

var extractedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type MockFetcher struct{ mock.Mock }

func (m *MockFetcher) Fetch(ctx context.Context, req extract.Request) (extract.Page, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(extract.Page), args.Error(1)
}

// event is one message observed by recordingSink, in emission order.
type event struct {
	kind   string // schema, record or state
	stream string
	record map[string]any
	state  *checkpoint.State
}

// recordingSink keeps the full message sequence so ordering can be asserted.
type recordingSink struct {
	mu     sync.Mutex
	events []event

	failRecordAfter int // fail the Nth record (1-based); zero disables
	failState       bool
}

func (s *recordingSink) EmitSchema(_ context.Context, stream string, _ *catalog.Schema, _, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{kind: "schema", stream: stream})
	return nil
}

func (s *recordingSink) EmitRecord(_ context.Context, stream string, record map[string]any, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecordAfter > 0 && len(s.recordsLocked(""))+1 == s.failRecordAfter {
		return errSinkBroken
	}
	s.events = append(s.events, event{kind: "record", stream: stream, record: record})
	return nil
}

func (s *recordingSink) EmitState(_ context.Context, state *checkpoint.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failState {
		return errSinkBroken
	}
	s.events = append(s.events, event{kind: "state", state: state})
	return nil
}

func (s *recordingSink) records(stream string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsLocked(stream)
}

func (s *recordingSink) recordsLocked(stream string) []map[string]any {
	var out []map[string]any
	for _, e := range s.events {
		if e.kind == "record" && (stream == "" || e.stream == stream) {
			out = append(out, e.record)
		}
	}
	return out
}

func (s *recordingSink) lastState() *checkpoint.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].kind == "state" {
			return s.events[i].state
		}
	}
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.kind+":"+e.stream)
	}
	return out
}

type sinkError string

func (e sinkError) Error() string { return string(e) }

const errSinkBroken = sinkError("sink broken")

func noopMetrics(t *testing.T) metrics.SyncMetrics {
	t.Helper()
	m, err := metrics.New(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

type harness struct {
	fetcher *MockFetcher
	sink    *recordingSink
	store   *checkpoint.Store
	pager   *Paginator
	orch    *Orchestrator
}

func newHarness(t *testing.T, fetcher extract.Fetcher, initial *checkpoint.State, startDate time.Time) *harness {
	t.Helper()
	sink := &recordingSink{}
	store := checkpoint.NewStore(initial, sink)
	tracer := noop.NewTracerProvider().Tracer("test")
	m := noopMetrics(t)
	log := logger.Noop()

	pager := NewPaginator(fetcher, sink, store, timeutil.Fixed{T: extractedAt}, m, log, tracer)
	orch := NewOrchestrator(pager, sink, store, startDate, m, log, tracer)

	h := &harness{sink: sink, store: store, pager: pager, orch: orch}
	if mf, ok := fetcher.(*MockFetcher); ok {
		h.fetcher = mf
	}
	return h
}

func mustSchema(t *testing.T, doc string) *catalog.Schema {
	t.Helper()
	s, err := catalog.ParseSchema([]byte(doc))
	require.NoError(t, err)
	return s
}

const usersSchema = `{
  "type": ["null", "object"],
  "properties": {
    "id": {"type": ["null", "string"]},
    "name": {"type": ["null", "string"]},
    "email": {"type": ["null", "string"]}
  }
}`

const leadsSchema = `{
  "type": ["null", "object"],
  "properties": {
    "id": {"type": ["null", "string"]},
    "status": {"type": ["null", "string"]},
    "updated_at": {"type": ["null", "string"], "format": "date-time"}
  }
}`

func usersStream(t *testing.T) catalog.Stream {
	return catalog.Stream{
		Definition: catalog.StreamDefinition{
			Name:              "users",
			Path:              "users",
			DataKey:           "users",
			KeyProperties:     []string{"id"},
			ReplicationMethod: catalog.ReplicationFullTable,
		},
		Schema:   mustSchema(t, usersSchema),
		Selected: true,
	}
}

func leadsStream(t *testing.T) catalog.Stream {
	return catalog.Stream{
		Definition: catalog.StreamDefinition{
			Name:               "leads",
			Path:               "leads",
			DataKey:            "leads",
			KeyProperties:      []string{"id"},
			ReplicationMethod:  catalog.ReplicationFullTable,
			ReplicationKeys:    []string{"updated_at"},
			BookmarkQueryField: "updated_after",
			BookmarkType:       checkpoint.BookmarkDatetime,
		},
		Schema:   mustSchema(t, leadsSchema),
		Selected: true,
	}
}

// pageReq matches a request for the given stream and page number.
func pageReq(stream string, page string) any {
	return mock.MatchedBy(func(r extract.Request) bool {
		return r.Stream == stream && r.Query.Get("page") == page
	})
}

func lead(id, updatedAt string) map[string]any {
	return map[string]any{"id": id, "status": "active", "updated_at": updatedAt}
}
