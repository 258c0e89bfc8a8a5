package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	db *sql.DB
}

// setup runs once on the single pooled connection, in order.
var setup = []struct{ name, stmt string }{
	{"enable WAL mode", "PRAGMA journal_mode=WAL"},
	{"enable foreign keys", "PRAGMA foreign_keys=ON"},
	{"create tables", schema},
}

// Open opens the SQLite database at path, creating its tables when missing.
// ":memory:" keeps everything in memory for the lifetime of the DB.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection. One connection keeps them in effect and
	// serializes writers from parallel reconcile workers.
	db.SetMaxOpenConns(1)
	for _, step := range setup {
		if _, err := db.Exec(step.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to %s: %w", step.name, err)
		}
	}
	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// withTx runs fn in a transaction and commits when it returns nil
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
