// Package checkpoint models the resumable sync state: per-stream bookmarks
// plus the currently-syncing marker.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
)

// State is the persisted checkpoint:
//
//	{"bookmarks": {<stream>: <value>}, "currentlySyncing": <stream>}
//
// Bookmark values are kept raw so that entries for streams this run does not
// touch survive a round trip unchanged.
type State struct {
	bookmarks        map[string]any
	currentlySyncing string
}

// NewState returns an empty state.
func NewState() *State { return &State{bookmarks: make(map[string]any)} }

// ParseState decodes a persisted state document. Empty input yields an empty
// state. The Singer spelling "currently_syncing" is accepted on read.
func ParseState(data []byte) (*State, error) {
	s := NewState()
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return s, nil
}

// RawBookmark returns the stored value for stream, if any.
func (s *State) RawBookmark(stream string) (any, bool) {
	v, ok := s.bookmarks[stream]
	return v, ok && v != nil
}

// CurrentlySyncing returns the in-flight stream or "".
func (s *State) CurrentlySyncing() string { return s.currentlySyncing }

// Streams lists streams that have a bookmark, sorted.
func (s *State) Streams() []string {
	out := make([]string, 0, len(s.bookmarks))
	for k := range s.bookmarks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep-enough copy for emission; bookmark values are scalars.
func (s *State) Clone() *State {
	return &State{bookmarks: maps.Clone(s.bookmarks), currentlySyncing: s.currentlySyncing}
}

func (s *State) setBookmark(stream string, b Bookmark) {
	if s.bookmarks == nil {
		s.bookmarks = make(map[string]any)
	}
	s.bookmarks[stream] = b.Value()
}

type stateJSON struct {
	Bookmarks        map[string]any `json:"bookmarks"`
	CurrentlySyncing string         `json:"currentlySyncing,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s *State) MarshalJSON() ([]byte, error) {
	bm := s.bookmarks
	if bm == nil {
		bm = map[string]any{}
	}
	return json.Marshal(stateJSON{Bookmarks: bm, CurrentlySyncing: s.currentlySyncing})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var aux struct {
		Bookmarks         map[string]any `json:"bookmarks"`
		CurrentlySyncing  *string        `json:"currentlySyncing"`
		CurrentlySyncing2 *string        `json:"currently_syncing"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&aux); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	s.bookmarks = aux.Bookmarks
	if s.bookmarks == nil {
		s.bookmarks = make(map[string]any)
	}
	s.currentlySyncing = ""
	switch {
	case aux.CurrentlySyncing != nil:
		s.currentlySyncing = *aux.CurrentlySyncing
	case aux.CurrentlySyncing2 != nil:
		s.currentlySyncing = *aux.CurrentlySyncing2
	}
	return nil
}

// Repository persists state durably between runs. Load returns (nil, nil)
// when nothing has been saved for tapID.
type Repository interface {
	Load(ctx context.Context, tapID string) (*State, error)
	Save(ctx context.Context, tapID string, state *State) error
}
