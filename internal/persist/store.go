// Package persist is the relay's single embedded relational store: trade
// groups, their members, global settings, and the outbound send-failure
// queue. It owns its schema and runs idempotent migrations at startup.
package persist

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the underlying SQLite connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// configures pragmas suited to a single-writer, many-reader server process.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The relay is a single process; one writer connection avoids
	// SQLITE_BUSY without needing a retry loop on every write.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers that need a raw query.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate runs the schema DDL. Every statement uses CREATE ... IF NOT
// EXISTS, so Migrate is safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
