package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"guildkeeper/internal/infra/db"
	"guildkeeper/internal/repository"
)

// StateFileName is the database file created under the data directory.
const StateFileName = "state.db"

// StateKey is the row that holds the snapshot.
const StateKey = "state"

// StateRepo keeps the state document in the embedded on-disk database.
type StateRepo struct{ db *sql.DB }

func NewStateRepo(conn *sql.DB) *StateRepo {
	return &StateRepo{db: conn}
}

// Open creates <dataDir>/state.db if needed and returns the repository.
func Open(ctx context.Context, dataDir string) (*StateRepo, error) {
	conn, err := db.OpenSQLite(ctx, filepath.Join(dataDir, StateFileName))
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(ctx, conn, db.DialectSQLite); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return NewStateRepo(conn), nil
}

func (repo *StateRepo) Name() string { return "sqlite" }

func (repo *StateRepo) Save(ctx context.Context, payload []byte) error {
	const query = `
INSERT INTO app_state (key, value, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (key) DO UPDATE
SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := repo.db.ExecContext(ctx, query, StateKey, string(payload)); err != nil {
		return fmt.Errorf("Save: ExecContext: %w", err)
	}
	return nil
}

func (repo *StateRepo) Load(ctx context.Context) ([]byte, error) {
	const query = `SELECT value FROM app_state WHERE key = ?`
	var value string
	err := repo.db.QueryRowContext(ctx, query, StateKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Load: QueryRowContext: %w", err)
	}
	return []byte(value), nil
}

func (repo *StateRepo) Close() error {
	return repo.db.Close()
}

var _ repository.StateRepository = (*StateRepo)(nil)
