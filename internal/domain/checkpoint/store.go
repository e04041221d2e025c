package checkpoint

import (
	"context"
	"fmt"
)

// Emitter persists a state snapshot. The sink implements it.
type Emitter interface {
	EmitState(ctx context.Context, state *State) error
}

// Store is the single owner of the run's checkpoint. Every mutation is
// persisted immediately through the Emitter.
//
// Store does not enforce bookmark monotonicity; callers compute the max
// before calling Set.
type Store struct {
	state   *State
	emitter Emitter
}

// NewStore wraps initial (which may be nil) and persists through emitter.
func NewStore(initial *State, emitter Emitter) *Store {
	if initial == nil {
		initial = NewState()
	}
	return &Store{state: initial.Clone(), emitter: emitter}
}

// Get returns the stored bookmark for stream, or def when none is stored.
// A stored value that cannot be read as typ is an error.
func (s *Store) Get(stream string, typ BookmarkType, def Bookmark) (Bookmark, error) {
	raw, ok := s.state.RawBookmark(stream)
	if !ok {
		return def, nil
	}
	b, err := ParseBookmark(typ, raw)
	if err != nil {
		return Bookmark{}, fmt.Errorf("stored bookmark for %q: %w", stream, err)
	}
	return b, nil
}

// Set stores the bookmark for stream and persists the state.
func (s *Store) Set(ctx context.Context, stream string, b Bookmark) error {
	if b.IsZero() {
		return nil
	}
	s.state.setBookmark(stream, b)
	return s.emit(ctx)
}

// SetCurrentlySyncing records the in-flight stream; "" clears the marker.
func (s *Store) SetCurrentlySyncing(ctx context.Context, stream string) error {
	s.state.currentlySyncing = stream
	return s.emit(ctx)
}

// CurrentlySyncing returns the marker as last set.
func (s *Store) CurrentlySyncing() string { return s.state.currentlySyncing }

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() *State { return s.state.Clone() }

func (s *Store) emit(ctx context.Context) error {
	if s.emitter == nil {
		return nil
	}
	return s.emitter.EmitState(ctx, s.state.Clone())
}
