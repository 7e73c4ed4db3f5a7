package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pendergraft/verifier/internal/config"
	"github.com/pendergraft/verifier/internal/matcher"
)

// PartStore handles bytecode decomposition and candidate search
type PartStore interface {
	Persist(ctx context.Context, sourceID string, codeType matcher.CodeType, code []byte) (*StoredBytecode, error)
	PersistParts(ctx context.Context, sourceID string, codeType matcher.CodeType, parts []Part) (*StoredBytecode, error)
	FindCandidates(ctx context.Context, code []byte, codeType matcher.CodeType) ([]Candidate, error)
	GetParts(ctx context.Context, bytecodeID int64) ([]Part, error)
	Reassemble(ctx context.Context, bytecodeID int64) ([]byte, error)
}

// SourceStore handles verified source records
type SourceStore interface {
	SaveSource(ctx context.Context, src *Source) (string, error)
	GetSource(ctx context.Context, id string) (*Source, error)
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	PartStore
	SourceStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// Source is a verified contract with everything needed to reproduce its
// compilation.
type Source struct {
	ID              string
	Language        string
	CompilerVersion string
	FileName        string
	ContractName    string
	Settings        json.RawMessage
	Sources         map[string]string
	ABI             json.RawMessage
	// Artifacts is the JSON of the compiled contract's artifact sets.
	Artifacts json.RawMessage
	CreatedAt string
}

// StoredBytecode is a persisted code and its ordered parts.
type StoredBytecode struct {
	ID       int64
	SourceID string
	CodeType matcher.CodeType
	Parts    []Part
	// Created is false when an identical bytecode already existed.
	Created bool
}

// Candidate is a stored bytecode whose first main part shares the search key
// of a queried code.
type Candidate struct {
	BytecodeID int64
	SourceID   string
	CodeType   matcher.CodeType
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
