package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Concurrent persists would otherwise fail with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return &SQLiteStore{sqlStore{db: db, logger: logger, rebind: noRebind}}, nil
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verified sources
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		compiler_version TEXT NOT NULL,
		file_name TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		settings TEXT,
		sources TEXT NOT NULL,
		abi TEXT,
		artifacts TEXT,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Content-addressed bytecode parts
	CREATE TABLE IF NOT EXISTS parts (
		id TEXT PRIMARY KEY,
		part_type TEXT NOT NULL CHECK (part_type IN ('main', 'metadata')),
		data BLOB NOT NULL,
		search_key TEXT,
		size_bytes INTEGER NOT NULL,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Bytecodes
	CREATE TABLE IF NOT EXISTS bytecodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		code_type TEXT NOT NULL CHECK (code_type IN ('creation', 'runtime')),
		parts_hash TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		UNIQUE(source_id, code_type, parts_hash)
	);

	-- Ordered parts of a bytecode
	CREATE TABLE IF NOT EXISTS bytecode_parts (
		bytecode_id INTEGER NOT NULL REFERENCES bytecodes(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		part_id TEXT NOT NULL REFERENCES parts(id),
		PRIMARY KEY (bytecode_id, position)
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_parts_search_key ON parts(search_key);
	CREATE INDEX IF NOT EXISTS idx_bytecode_parts_part ON bytecode_parts(part_id);
	CREATE INDEX IF NOT EXISTS idx_bytecodes_source ON bytecodes(source_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}
