// Package storage implements the Storage & Identity component: the seven
// SQLite stage tables, the normalization functions used for identity
// comparison, and the atomic move/dedupe operations that make up the
// reference lifecycle state machine.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection pool and implements every Storage &
// Identity operation. All writes run through short-lived transactions;
// there is no in-process cache or lock beyond what database/sql itself
// provides — the SQLite file is the only shared mutable state.
type Store struct {
	db *sql.DB
}

// Open connects to the SQLite database at path, enabling foreign keys and a
// busy timeout so concurrent writers block briefly rather than fail with
// SQLITE_BUSY — the Go realization of spec.md §9's "small connection pool
// ... SQLite busy-timeouts handle contention" note.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies every migrationsDir/*.sql file in lexical order. Idempotent:
// every statement in the shipped migrations uses CREATE TABLE IF NOT EXISTS /
// CREATE INDEX IF NOT EXISTS, generalizing the teacher's migrate_run one-shot
// os.ReadFile-then-Exec idiom from a single hard-coded file to a directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sqlBytes, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
