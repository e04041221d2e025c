package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
)

var extractedAt = time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

func leadsSchema(t *testing.T) *catalog.Schema {
	t.Helper()
	s, err := catalog.ParseSchema([]byte(`{"type":["null","object"],"properties":{"id":{"type":["null","string"]}}}`))
	require.NoError(t, err)
	return s
}

func stateWith(t *testing.T, doc string) *checkpoint.State {
	t.Helper()
	s, err := checkpoint.ParseState([]byte(doc))
	require.NoError(t, err)
	return s
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		msgs = append(msgs, m)
	}
	return msgs
}

func TestWriter_EmitsSingerMessages(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ctx := context.Background()

	require.NoError(t, w.EmitSchema(ctx, "leads", leadsSchema(t), []string{"id"}, []string{"updated_at"}))
	require.NoError(t, w.EmitRecord(ctx, "leads", map[string]any{"id": "l1"}, extractedAt))
	require.NoError(t, w.EmitState(ctx, stateWith(t, `{"bookmarks":{"leads":"2024-03-01T00:00:00Z"}}`)))

	msgs := decodeLines(t, buf.String())
	require.Len(t, msgs, 3)

	assert.Equal(t, "SCHEMA", msgs[0]["type"])
	assert.Equal(t, "leads", msgs[0]["stream"])
	assert.Equal(t, []any{"id"}, msgs[0]["key_properties"])
	assert.Equal(t, []any{"updated_at"}, msgs[0]["bookmark_properties"])
	assert.Contains(t, msgs[0]["schema"], "properties")

	assert.Equal(t, "RECORD", msgs[1]["type"])
	assert.Equal(t, map[string]any{"id": "l1"}, msgs[1]["record"])
	assert.Equal(t, "2024-06-01T12:30:00Z", msgs[1]["time_extracted"])

	assert.Equal(t, "STATE", msgs[2]["type"])
	assert.Equal(t, map[string]any{"bookmarks": map[string]any{"leads": "2024-03-01T00:00:00Z"}}, msgs[2]["value"])
}

func TestWriter_SchemaWithoutKeysEmitsEmptyList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).EmitSchema(context.Background(), "users", leadsSchema(t), nil, nil))

	msgs := decodeLines(t, buf.String())
	require.Len(t, msgs, 1)
	assert.Equal(t, []any{}, msgs[0]["key_properties"])
	assert.NotContains(t, msgs[0], "bookmark_properties")
}

func TestWriter_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.EmitRecord(context.Background(), "users", map[string]any{"id": strings.Repeat("x", 512)}, extractedAt)
		}()
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, buf.String()), 50)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriter_PropagatesWriteErrors(t *testing.T) {
	err := NewWriter(failingWriter{}).EmitRecord(context.Background(), "users", map[string]any{}, extractedAt)
	assert.ErrorContains(t, err, "broken pipe")
}

func TestKafkaSink_KeysMessages(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig("tap-test"))

	expect := func(key string, typ MessageType) {
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			k, err := msg.Key.Encode()
			if err != nil {
				return err
			}
			if string(k) != key {
				return errors.New("unexpected key " + string(k))
			}
			for _, h := range msg.Headers {
				if string(h.Key) == messageTypeHeader && string(h.Value) == string(typ) {
					return nil
				}
			}
			return errors.New("missing message type header")
		})
	}
	expect("leads", MessageSchema)
	expect("leads", MessageRecord)
	expect(StateKey, MessageState)

	k := NewKafkaSink(producer, "persistiq", logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	ctx := context.Background()
	require.NoError(t, k.EmitSchema(ctx, "leads", leadsSchema(t), []string{"id"}, nil))
	require.NoError(t, k.EmitRecord(ctx, "leads", map[string]any{"id": "l1"}, extractedAt))
	require.NoError(t, k.EmitState(ctx, checkpoint.NewState()))

	require.NoError(t, k.Close())
}

func TestKafkaSink_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	k := NewKafkaSink(producer, "persistiq", logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	err := k.EmitRecord(context.Background(), "users", map[string]any{"id": "u1"}, extractedAt)
	require.ErrorIs(t, err, sarama.ErrNotEnoughReplicas)
	require.NoError(t, k.Close())
}

func TestFanout_StopsAtFirstFailure(t *testing.T) {
	var first bytes.Buffer
	f := Fanout{NewWriter(&first), NewWriter(failingWriter{})}

	err := f.EmitRecord(context.Background(), "users", map[string]any{"id": "u1"}, extractedAt)
	require.Error(t, err)
	assert.Len(t, decodeLines(t, first.String()), 1)
}

type MockRepository struct{ mock.Mock }

func (m *MockRepository) Load(ctx context.Context, tapID string) (*checkpoint.State, error) {
	args := m.Called(ctx, tapID)
	if s, ok := args.Get(0).(*checkpoint.State); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) Save(ctx context.Context, tapID string, state *checkpoint.State) error {
	return m.Called(ctx, tapID, state).Error(0)
}

func TestStateMirror(t *testing.T) {
	var buf bytes.Buffer
	repo := new(MockRepository)
	state := stateWith(t, `{"bookmarks":{"leads":"2024-03-01T00:00:00Z"},"currentlySyncing":"leads"}`)
	repo.On("Save", mock.Anything, "tap-1", state).Return(nil).Once()

	m := NewStateMirror(NewWriter(&buf), repo, "tap-1")
	require.NoError(t, m.EmitRecord(context.Background(), "leads", map[string]any{"id": "l1"}, extractedAt))
	require.NoError(t, m.EmitState(context.Background(), state))

	assert.Len(t, decodeLines(t, buf.String()), 2)
	repo.AssertExpectations(t)
}

func TestStateMirror_SaveFailure(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Save", mock.Anything, "tap-1", mock.Anything).Return(errors.New("db down")).Once()

	m := NewStateMirror(NewWriter(&bytes.Buffer{}), repo, "tap-1")
	err := m.EmitState(context.Background(), checkpoint.NewState())
	assert.ErrorContains(t, err, "db down")
}

func TestStateMirror_SinkFailureSkipsSave(t *testing.T) {
	repo := new(MockRepository)
	m := NewStateMirror(NewWriter(failingWriter{}), repo, "tap-1")

	require.Error(t, m.EmitState(context.Background(), checkpoint.NewState()))
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}
