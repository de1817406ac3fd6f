package circuitbreaker

import (
	"context"
	"database/sql"
)

// DB issues statements against a *sql.DB through a breaker.
type DB struct {
	cb  *CircuitBreaker
	raw *sql.DB
}

// WrapDB guards db with a breaker built from cfg.
func WrapDB(db *sql.DB, cfg Config) *DB {
	return &DB{cb: New(cfg), raw: db}
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return Do(d.cb, func() (sql.Result, error) {
		return d.raw.ExecContext(ctx, query, args...)
	})
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return Do(d.cb, func() (*sql.Rows, error) {
		return d.raw.QueryContext(ctx, query, args...)
	})
}

// Close closes the underlying pool. It bypasses the breaker.
func (d *DB) Close() error { return d.raw.Close() }
