package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"guildkeeper/internal/infra/db"
	"guildkeeper/internal/repository"
	"guildkeeper/internal/resilience/circuitbreaker"
)

// StateKey is the row that holds the snapshot in app_state.
const StateKey = "state"

// StateRepo stores the state document as one row of app_state.
// Every statement goes through the state-backend circuit breaker.
type StateRepo struct {
	db *circuitbreaker.DB
}

func NewStateRepo(conn *sql.DB) *StateRepo {
	return &StateRepo{db: circuitbreaker.WrapDB(conn, circuitbreaker.StateBackendConfig("state-postgres"))}
}

// Connect opens dsn, ensures the state table exists and returns the repository.
func Connect(ctx context.Context, dsn string) (*StateRepo, error) {
	conn, err := db.OpenPostgres(ctx, dsn, db.ConnectionConfigFromEnv())
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(ctx, conn, db.DialectPostgres); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return NewStateRepo(conn), nil
}

func (repo *StateRepo) Name() string { return "postgres" }

func (repo *StateRepo) Save(ctx context.Context, payload []byte) error {
	const query = `
INSERT INTO app_state (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := repo.db.ExecContext(ctx, query, StateKey, string(payload)); err != nil {
		return fmt.Errorf("Save: ExecContext: %w", err)
	}
	return nil
}

func (repo *StateRepo) Load(ctx context.Context) ([]byte, error) {
	const query = `SELECT value FROM app_state WHERE key = $1`
	rows, err := repo.db.QueryContext(ctx, query, StateKey)
	if err != nil {
		return nil, fmt.Errorf("Load: QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("Load: rows.Err: %w", err)
		}
		return nil, repository.ErrStateNotFound
	}

	var value string
	if err := rows.Scan(&value); err != nil {
		return nil, fmt.Errorf("Load: Scan: %w", err)
	}
	return []byte(value), nil
}

func (repo *StateRepo) Close() error {
	return repo.db.Close()
}

var _ repository.StateRepository = (*StateRepo)(nil)
