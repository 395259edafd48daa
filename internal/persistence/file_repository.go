package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"etf-trend-bot/internal/models"
)

// fileRepository stores the state as one indented JSON document. Writes go to
// a temp file that is synced and renamed over the target, so a crash leaves
// either the old or the new document.
type fileRepository struct {
	path string
}

// NewFileRepository returns a repository backed by the JSON file at path.
func NewFileRepository(path string) StateRepository {
	return &fileRepository{path: path}
}

// SaveState writes the document atomically.
func (r *fileRepository) SaveState(state *models.PersistentState) error {
	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// LoadState returns (nil, nil) when the file does not exist or is empty.
func (r *fileRepository) LoadState() (*models.PersistentState, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var state models.PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	state.Normalize()
	return &state, nil
}

func (r *fileRepository) Close() error {
	return nil
}
