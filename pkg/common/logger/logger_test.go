package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	traceIDFn := func(context.Context) string { return "abc" }

	log := NewWithMetadata(&buf, LevelInfo, "tap", traceIDFn, Events{}, map[string]string{"stream_set": "default"})
	log.Debug(context.Background(), "hidden")
	log.With("stream", "leads").Info(context.Background(), "synced", "records", 3)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "synced", lines[0]["msg"])
	assert.Equal(t, "tap", lines[0]["service"])
	assert.Equal(t, "default", lines[0]["stream_set"])
	assert.Equal(t, "leads", lines[0]["stream"])
	assert.Equal(t, float64(3), lines[0]["records"])
	assert.Equal(t, "abc", lines[0]["trace_id"])
	assert.Contains(t, lines[0]["file"], "logger_test.go")
}

func TestLogger_ErrorEventFires(t *testing.T) {
	var buf bytes.Buffer
	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}

	log := NewWithEvents(&buf, LevelDebug, "tap", nil, events)
	log.Error(context.Background(), "boom", "stream", "users")

	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "users", got.Attributes["stream"])
}

func TestLoggerContext_Add(t *testing.T) {
	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelDebug, "tap", nil))

	lc.Add("stream", "campaigns")
	lc.Add("page", 2)
	lc.Info(context.Background(), "page fetched")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "campaigns", lines[0]["stream"])
	assert.Equal(t, float64(2), lines[0]["page"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestNoop(t *testing.T) {
	assert.NotPanics(t, func() { Noop().Error(context.Background(), "ignored") })
}
