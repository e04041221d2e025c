package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/NickLeoMartin/tap-persistiq/internal/config"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/extract"
	"github.com/NickLeoMartin/tap-persistiq/internal/infra/sink"
	"github.com/NickLeoMartin/tap-persistiq/internal/infra/storage"
	filestate "github.com/NickLeoMartin/tap-persistiq/internal/infra/storage/state/file"
	pgstate "github.com/NickLeoMartin/tap-persistiq/internal/infra/storage/state/postgres"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/otel"
)

// buildSink returns the configured sink and a function releasing it.
func buildSink(cfg *config.Config, stdout io.Writer, log *logger.Logger, tracer trace.Tracer) (extract.Sink, func() error, error) {
	writer := sink.NewWriter(stdout)

	switch cfg.Sink.Type {
	case config.SinkTypeKafka:
		k, err := sink.ConnectKafka(sink.KafkaConfig{
			Brokers:  cfg.Sink.Kafka.Brokers,
			Topic:    cfg.Sink.Kafka.Topic,
			ClientID: cfg.Sink.Kafka.ClientID,
		}, log, tracer)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Sink.Kafka.Tee {
			return sink.Fanout{writer, k}, k.Close, nil
		}
		return k, k.Close, nil
	default:
		return writer, func() error { return nil }, nil
	}
}

// openStateRepository returns nil when no durable backend is configured.
func openStateRepository(
	ctx context.Context,
	cfg *config.Config,
	providers otel.Providers,
	tracer trace.Tracer,
) (checkpoint.Repository, func(), error) {
	switch cfg.StateBackend.Type {
	case config.StateBackendFile:
		return filestate.NewStateRepository(cfg.StateBackend.Path), func() {}, nil

	case config.StateBackendPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.StateBackend.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = 4
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTracerProvider(providers.Tracer))

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		if err := storage.Migrate(pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstate.NewStateStore(pool, tracer), pool.Close, nil

	default:
		return nil, func() {}, nil
	}
}

// loadInitialState picks the resume point: an explicit --state file wins,
// then the durable backend, otherwise an empty state.
func loadInitialState(ctx context.Context, statePath string, repo checkpoint.Repository, tapID string) (*checkpoint.State, error) {
	if statePath != "" {
		data, err := os.ReadFile(statePath)
		if err != nil {
			return nil, fmt.Errorf("read state file: %w", err)
		}
		return checkpoint.ParseState(data)
	}
	if repo != nil {
		state, err := repo.Load(ctx, tapID)
		if err != nil {
			return nil, err
		}
		if state != nil {
			return state, nil
		}
	}
	return checkpoint.NewState(), nil
}
