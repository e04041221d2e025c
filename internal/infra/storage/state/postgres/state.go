package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/infra/storage"
)

var _ checkpoint.Repository = (*stateStore)(nil)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const (
	getTapState = `SELECT state FROM tap_state WHERE tap_id = $1`

	upsertTapState = `
INSERT INTO tap_state (tap_id, state)
VALUES ($1, $2)
ON CONFLICT (tap_id) DO UPDATE
SET state = EXCLUDED.state,
    updated_at = NOW()`
)

// stateStore provides a PostgreSQL implementation of checkpoint.Repository.
// Each tap keeps one row whose JSONB document is replaced on every save.
type stateStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStateStore creates a PostgreSQL-backed state repository. The schema must
// already be migrated (see storage.Migrate).
func NewStateStore(pool *pgxpool.Pool, tracer trace.Tracer) *stateStore {
	return &stateStore{pool: pool, tracer: tracer}
}

// Save upserts the state document for tapID.
func (s *stateStore) Save(ctx context.Context, tapID string, state *checkpoint.State) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("tap_id", tapID),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_tap_state", dbAttrs, func(ctx context.Context) error {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal tap state: %w", err)
		}
		if _, err := s.pool.Exec(ctx, upsertTapState, tapID, data); err != nil {
			return fmt.Errorf("failed to save tap state: %w", err)
		}
		return nil
	})
}

// Load retrieves the state for tapID. Returns nil if no state exists.
func (s *stateStore) Load(ctx context.Context, tapID string) (*checkpoint.State, error) {
	var state *checkpoint.State
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("tap_id", tapID),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_tap_state", dbAttrs, func(ctx context.Context) error {
		var data []byte
		if err := s.pool.QueryRow(ctx, getTapState, tapID).Scan(&data); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to load tap state: %w", err)
		}

		var err error
		state, err = checkpoint.ParseState(data)
		if err != nil {
			return fmt.Errorf("failed to unmarshal tap state: %w", err)
		}
		return nil
	})
	return state, err
}
