package sink

import (
	"context"
	"fmt"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/extract"
)

// StateMirror forwards everything to the wrapped sink and additionally saves
// each checkpoint to a repository once the sink has accepted it.
type StateMirror struct {
	extract.Sink
	repo  checkpoint.Repository
	tapID string
}

// NewStateMirror wraps next so that states are also saved under tapID.
func NewStateMirror(next extract.Sink, repo checkpoint.Repository, tapID string) *StateMirror {
	return &StateMirror{Sink: next, repo: repo, tapID: tapID}
}

func (m *StateMirror) EmitState(ctx context.Context, state *checkpoint.State) error {
	if err := m.Sink.EmitState(ctx, state); err != nil {
		return err
	}
	if err := m.repo.Save(ctx, m.tapID, state); err != nil {
		return fmt.Errorf("mirror state for %s: %w", m.tapID, err)
	}
	return nil
}
