package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/infra/storage/state/memory"
)

func fakeAPI(t *testing.T, status int) *httptest.Server {
	t.Helper()
	bodies := map[string]string{
		"/v1/users":     `{"status":"success","users":[{"id":"u1","name":"Ada","email":"ada@example.com"}],"next_page":null}`,
		"/v1/leads":     `{"status":"success","leads":[{"id":"l1","status":"active","updated_at":"2024-02-01T00:00:00Z"},{"id":"l2","status":"active","updated_at":"2024-03-01T00:00:00Z"}],"next_page":null}`,
		"/v1/campaigns": `{"status":"success","campaigns":[{"id":"c1","name":"Launch"}],"next_page":null}`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"status":"error","error":[{"reason":"unauthorized","message":"invalid api key"}]}`))
			return
		}
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func writeConfig(t *testing.T, baseURL, statePath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := fmt.Sprintf(`{
		"access_token": "token",
		"start_date": "2024-01-01T00:00:00Z",
		"user_agent": "tap-persistiq-test",
		"base_url": %q,
		"retry": {"max_attempts": 1},
		"state_backend": {"type": "file", "path": %q}
	}`, baseURL, statePath)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func messages(t *testing.T, out string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "stdout must only carry messages: %s", sc.Text())
		msgs = append(msgs, m)
	}
	return msgs
}

func TestRun_Discover(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--discover"}, &stdout, &stderr))

	var doc struct {
		Streams []struct {
			TapStreamID string `json:"tap_stream_id"`
		} `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &doc))
	require.Len(t, doc.Streams, 3)
	assert.Equal(t, "users", doc.Streams[0].TapStreamID)
}

func TestRun_RequiresConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, &stdout, &stderr)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr.String(), "--config is required")
	assert.Empty(t, stdout.String())
}

func TestRun_SyncEveryStream(t *testing.T) {
	srv := fakeAPI(t, http.StatusOK)
	defer srv.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	cfgPath := writeConfig(t, srv.URL+"/v1", statePath)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--config", cfgPath}, &stdout, &stderr), stderr.String())

	msgs := messages(t, stdout.String())
	var schemas []string
	records := map[string]int{}
	var lastState map[string]any
	for _, m := range msgs {
		switch m["type"] {
		case "SCHEMA":
			schemas = append(schemas, m["stream"].(string))
		case "RECORD":
			records[m["stream"].(string)]++
		case "STATE":
			lastState = m["value"].(map[string]any)
		}
	}
	assert.Equal(t, []string{"users", "leads", "campaigns"}, schemas)
	assert.Equal(t, map[string]int{"users": 1, "leads": 2, "campaigns": 1}, records)
	assert.Equal(t, map[string]any{"leads": "2024-03-01T00:00:00Z"}, lastState["bookmarks"])
	assert.NotContains(t, lastState, "currentlySyncing")

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bookmarks":{"leads":"2024-03-01T00:00:00Z"}}`, string(data))
}

func TestRun_CheckRejectsBadToken(t *testing.T) {
	srv := fakeAPI(t, http.StatusUnauthorized)
	defer srv.Close()

	cfgPath := writeConfig(t, srv.URL+"/v1", filepath.Join(t.TempDir(), "state.json"))

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--config", cfgPath, "--check"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Empty(t, stdout.String())
}

func TestLoadInitialState_Precedence(t *testing.T) {
	ctx := context.Background()

	repo := memory.NewStateRepository()
	stored, err := checkpoint.ParseState([]byte(`{"bookmarks":{"leads":"2024-02-01T00:00:00Z"}}`))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, "tap", stored))

	statePath := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"bookmarks":{"leads":"2024-05-01T00:00:00Z"}}`), 0o644))

	tests := []struct {
		name      string
		statePath string
		repo      checkpoint.Repository
		want      any
	}{
		{name: "state flag wins", statePath: statePath, repo: repo, want: "2024-05-01T00:00:00Z"},
		{name: "repository next", repo: repo, want: "2024-02-01T00:00:00Z"},
		{name: "empty otherwise"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := loadInitialState(ctx, tt.statePath, tt.repo, "tap")
			require.NoError(t, err)
			raw, ok := s.RawBookmark("leads")
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			assert.Equal(t, tt.want, raw)
		})
	}
}
