// Package file stores the state document as a flat JSON file. It is the last
// backend in the fallback chain and needs nothing but a writable directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"guildkeeper/internal/repository"
)

// StateFileName is the file created under the data directory.
const StateFileName = "state.json"

type StateRepo struct {
	path string
}

// NewStateRepo returns a repository writing <dataDir>/state.json. It touches
// nothing on disk, so the file backend is always selectable; an unusable
// directory surfaces on Save.
func NewStateRepo(dataDir string) *StateRepo {
	return &StateRepo{path: filepath.Join(dataDir, StateFileName)}
}

func (repo *StateRepo) Name() string { return "file" }

// Path returns the location of the state file.
func (repo *StateRepo) Path() string { return repo.path }

// Save writes payload to a temp file in the same directory and renames it over
// the state file, so readers never observe a partial document.
func (repo *StateRepo) Save(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(repo.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("Save: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, StateFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("Save: CreateTemp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("Save: Write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("Save: Sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("Save: Close: %w", err)
	}
	if err := os.Rename(tmpName, repo.path); err != nil {
		return fmt.Errorf("Save: Rename: %w", err)
	}
	return nil
}

func (repo *StateRepo) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(repo.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, repository.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Load: ReadFile: %w", err)
	}
	return data, nil
}

func (repo *StateRepo) Close() error { return nil }

var _ repository.StateRepository = (*StateRepo)(nil)
