package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the DDL flavour for the state table.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// StateTable is the key/value table that holds persisted snapshots.
const StateTable = "app_state"

// MigrateUp creates the state table if it does not exist yet.
func MigrateUp(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var ddl string
	switch dialect {
	case DialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS app_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	case DialectSQLite:
		ddl = `
CREATE TABLE IF NOT EXISTS app_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
) WITHOUT ROWID`
	default:
		return fmt.Errorf("MigrateUp: unknown dialect %q", dialect)
	}

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("MigrateUp: create %s: %w", StateTable, err)
	}
	return nil
}
