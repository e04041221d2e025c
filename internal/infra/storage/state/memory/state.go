package memory

import (
	"context"
	"sync"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
)

var _ checkpoint.Repository = (*StateRepository)(nil)

// StateRepository provides an in-memory implementation of
// checkpoint.Repository for tests and dry runs.
type StateRepository struct {
	mu     sync.Mutex
	states map[string]*checkpoint.State
}

// NewStateRepository creates an empty in-memory repository.
func NewStateRepository() *StateRepository {
	return &StateRepository{states: make(map[string]*checkpoint.State)}
}

// Save stores a copy of state for tapID.
func (r *StateRepository) Save(_ context.Context, tapID string, state *checkpoint.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[tapID] = state.Clone()
	return nil
}

// Load returns a copy of the state for tapID, or nil when none was saved.
func (r *StateRepository) Load(_ context.Context, tapID string) (*checkpoint.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[tapID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}
