package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{sqlStore{db: db, logger: logger, rebind: dollarRebind}}, nil
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verified sources
	CREATE TABLE IF NOT EXISTS sources (
		id UUID PRIMARY KEY,
		language TEXT NOT NULL,
		compiler_version TEXT NOT NULL,
		file_name TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		settings JSONB,
		sources JSONB NOT NULL,
		abi JSONB,
		artifacts JSONB,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Content-addressed bytecode parts
	CREATE TABLE IF NOT EXISTS parts (
		id TEXT PRIMARY KEY,
		part_type TEXT NOT NULL CHECK (part_type IN ('main', 'metadata')),
		data BYTEA NOT NULL,
		search_key TEXT,
		size_bytes INTEGER NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Bytecodes
	CREATE TABLE IF NOT EXISTS bytecodes (
		id BIGSERIAL PRIMARY KEY,
		source_id UUID NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		code_type TEXT NOT NULL CHECK (code_type IN ('creation', 'runtime')),
		parts_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(source_id, code_type, parts_hash)
	);

	-- Ordered parts of a bytecode
	CREATE TABLE IF NOT EXISTS bytecode_parts (
		bytecode_id BIGINT NOT NULL REFERENCES bytecodes(id) ON DELETE CASCADE,
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
