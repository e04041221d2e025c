package envloader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NickLeoMartin/tap-persistiq/internal/config"
)

type staticLoader struct {
	cfg *config.Config
	err error
}

func (s staticLoader) Load(context.Context) (*config.Config, error) { return s.cfg, s.err }

func TestEnvLoader_Overrides(t *testing.T) {
	t.Setenv("TAP_PERSISTIQ_ACCESS_TOKEN", "from-env")
	t.Setenv("TAP_PERSISTIQ_SINK_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("TAP_PERSISTIQ_RETRY_MAX_ATTEMPTS", "3")

	base := &config.Config{AccessToken: "from-file", UserAgent: "tap"}
	cfg, err := New(staticLoader{cfg: base}).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.AccessToken)
	assert.Equal(t, "tap", cfg.UserAgent)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Sink.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestEnvLoader_BadValue(t *testing.T) {
	t.Setenv("TAP_PERSISTIQ_RETRY_MAX_ATTEMPTS", "lots")

	_, err := New(staticLoader{cfg: &config.Config{}}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TAP_PERSISTIQ_RETRY_MAX_ATTEMPTS")
}

func TestEnvLoader_BaseError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(staticLoader{err: boom}).Load(context.Background())
	assert.ErrorIs(t, err, boom)
}
