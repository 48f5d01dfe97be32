// Package sqlite keeps the small pieces of state that must survive a restart
// on the local disk: the profit-sample history and the token registry.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPath = "data/flasharb.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS profit_samples (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sampled_at  TEXT    NOT NULL,
	pair_id     TEXT    NOT NULL,
	estimated   REAL    NOT NULL,
	actual      REAL    NOT NULL,
	error_ratio REAL    NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	address  TEXT PRIMARY KEY,
	symbol   TEXT NOT NULL,
	decimals INTEGER NOT NULL,
	added_at TEXT NOT NULL
);`

// Store wraps the SQLite connection.
type Store struct {
	path string
	db   *sql.DB
}

// Open creates the data directory if needed, opens the database in WAL mode
// and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: ensure data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; readers go through the same handle.
	db.SetMaxOpenConns(1)
	if err := ensureWAL(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{path: path, db: db}, nil
}

func ensureWAL(db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Samples returns the profit-sample view of the store.
func (s *Store) Samples() *ProfitSamples {
	return &ProfitSamples{db: s.db}
}

// Tokens returns the token-registry view of the store.
func (s *Store) Tokens() *TokenRegistry {
	return &TokenRegistry{db: s.db}
}
