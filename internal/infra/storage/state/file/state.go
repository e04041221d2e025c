// Package file persists tap state as a JSON document on local disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
)

var _ checkpoint.Repository = (*StateRepository)(nil)

// StateRepository keeps the state of a single tap in one file. The tap ID is
// not part of the document; point different taps at different paths.
type StateRepository struct {
	path string
}

// NewStateRepository returns a repository backed by path. The file and its
// directory are created on first save.
func NewStateRepository(path string) *StateRepository {
	return &StateRepository{path: path}
}

// Load reads the state file. A missing file means no state.
func (r *StateRepository) Load(_ context.Context, _ string) (*checkpoint.State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", r.path, err)
	}
	state, err := checkpoint.ParseState(data)
	if err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", r.path, err)
	}
	return state, nil
}

// Save writes state to a temporary file in the same directory and renames it
// over the target, so readers never observe a partial document.
func (r *StateRepository) Save(_ context.Context, _ string, state *checkpoint.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
