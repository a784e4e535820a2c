package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modelswitchd/pkg/defaults"
	"modelswitchd/pkg/models"
)

// ErrCorrupt is returned when the persisted document exists but cannot be
// decoded. Callers fall back to defaults and record a warning.
var ErrCorrupt = errors.New("persisted state document is corrupt")

// FileStore persists the ActiveState document as a single JSON file. Writes
// go to a temporary file in the same directory and are renamed into place,
// so a crash mid-write cannot leave a torn record. There is a single writer
// process-wide, guarded by the caller's serializer.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted state. Returns (nil, nil) when no document has
// ever been written, and ErrCorrupt when one exists but cannot be parsed.
func (s *FileStore) Load(_ context.Context) (*models.ActiveState, error) {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading state file %s: %w", s.path, err)
	}

	state := &models.ActiveState{}
	if err := json.Unmarshal(contents, state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	return state, nil
}

// Save atomically replaces the persisted state.
func (s *FileStore) Save(_ context.Context, state *models.ActiveState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), defaults.DataDirPerm); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	contents, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".active-state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("writing temp state file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replacing state file: %w", err)
	}

	return nil
}
