package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pendergraft/verifier/internal/matcher"
	"github.com/pendergraft/verifier/internal/observability/metrics"
)

// sqlStore holds the queries shared by the SQLite and Postgres backends.
// Queries are written with "?" placeholders and passed through rebind.
type sqlStore struct {
	db     *sql.DB
	logger *slog.Logger
	rebind func(string) string
}

func noRebind(q string) string { return q }

// dollarRebind rewrites "?" placeholders to "$1", "$2", ...
func dollarRebind(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping checks the database connection
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// Persist splits code at its trailing metadata block and stores the parts.
func (s *sqlStore) Persist(ctx context.Context, sourceID string, codeType matcher.CodeType, code []byte) (*StoredBytecode, error) {
	return s.PersistParts(ctx, sourceID, codeType, Split(code))
}

// PersistParts stores parts, the bytecode row and its ordered part list in
// one transaction. Persisting the same parts for the same source and code
// type again returns the existing bytecode.
func (s *sqlStore) PersistParts(ctx context.Context, sourceID string, codeType matcher.CodeType, parts []Part) (*StoredBytecode, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty bytecode", ErrInvalidPart)
	}
	ids := make([]string, len(parts))
	for i, p := range parts {
		if p.Type != PartMain && p.Type != PartMetadata {
			return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPart, p.Type)
		}
		ids[i] = p.ID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := make(map[PartType]int)
	for i, p := range parts {
		res, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO parts (id, part_type, data, search_key, size_bytes)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`), ids[i], string(p.Type), p.Data, nullString(p.searchKey()), len(p.Data))
		if err != nil {
			return nil, fmt.Errorf("inserting part: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted[p.Type] += int(n)
		}
	}

	seqHash := sequenceHash(ids)
	created := true
	var bytecodeID int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO bytecodes (source_id, code_type, parts_hash)
		VALUES (?, ?, ?)
		ON CONFLICT (source_id, code_type, parts_hash) DO NOTHING
		RETURNING id
	`), sourceID, string(codeType), seqHash).Scan(&bytecodeID)
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = tx.QueryRowContext(ctx, s.rebind(`
			SELECT id FROM bytecodes WHERE source_id = ? AND code_type = ? AND parts_hash = ?
		`), sourceID, string(codeType), seqHash).Scan(&bytecodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting bytecode: %w", err)
	}

	if created {
		for pos, id := range ids {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO bytecode_parts (bytecode_id, position, part_id) VALUES (?, ?, ?)
			`), bytecodeID, pos, id); err != nil {
				return nil, fmt.Errorf("inserting bytecode part %d: %w", pos, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	if created {
		for t, n := range inserted {
			metrics.PartsStored(string(t), n)
		}
		s.logger.Debug("bytecode stored",
			"bytecode_id", bytecodeID,
			"source_id", sourceID,
			"code_type", codeType,
			"parts", len(parts),
		)
	}

	return &StoredBytecode{
		ID:       bytecodeID,
		SourceID: sourceID,
		CodeType: codeType,
		Parts:    parts,
		Created:  created,
	}, nil
}

// FindCandidates returns stored bytecodes of the given code type whose first
// part is a main part with the same search key as code, ordered by id.
func (s *sqlStore) FindCandidates(ctx context.Context, code []byte, codeType matcher.CodeType) ([]Candidate, error) {
	if len(code) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT b.id, b.source_id, b.code_type
		FROM parts p
		JOIN bytecode_parts bp ON bp.part_id = p.id AND bp.position = 0
		JOIN bytecodes b ON b.id = bp.bytecode_id
		WHERE p.search_key = ? AND b.code_type = ?
		ORDER BY b.id
	`), SearchKey(code), string(codeType))
	if err != nil {
		return nil, fmt.Errorf("searching candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var ct string
		if err := rows.Scan(&c.BytecodeID, &c.SourceID, &ct); err != nil {
			return nil, err
		}
		c.CodeType = matcher.CodeType(ct)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// GetParts returns the parts of a bytecode in position order.
func (s *sqlStore) GetParts(ctx context.Context, bytecodeID int64) ([]Part, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT bp.position, p.part_type, p.data
		FROM bytecode_parts bp
		LEFT JOIN parts p ON p.id = bp.part_id
		WHERE bp.bytecode_id = ?
		ORDER BY bp.position
	`), bytecodeID)
	if err != nil {
		return nil, fmt.Errorf("querying parts: %w", err)
	}
	defer rows.Close()

	var parts []Part
	for rows.Next() {
		var pos int
		var partType sql.NullString
		var data []byte
		if err := rows.Scan(&pos, &partType, &data); err != nil {
			return nil, err
		}
		if pos != len(parts) {
			return nil, fmt.Errorf("%w: bytecode %d has no part at position %d", ErrInconsistentParts, bytecodeID, len(parts))
		}
		if !partType.Valid {
			return nil, fmt.Errorf("%w: bytecode %d references a missing part at position %d", ErrInconsistentParts, bytecodeID, pos)
		}
		parts = append(parts, Part{Type: PartType(partType.String), Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(parts) == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM bytecodes WHERE id = ?`), bytecodeID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: bytecode %d has no parts", ErrInconsistentParts, bytecodeID)
	}
	return parts, nil
}

// Reassemble concatenates the parts of a bytecode.
func (s *sqlStore) Reassemble(ctx context.Context, bytecodeID int64) ([]byte, error) {
	parts, err := s.GetParts(ctx, bytecodeID)
	if err != nil {
		return nil, err
	}
	return Join(parts), nil
}

// SaveSource stores a verified source and returns its id. The id is derived
// from the source content, so saving an identical source again returns the
// existing id and writes nothing.
func (s *sqlStore) SaveSource(ctx context.Context, src *Source) (string, error) {
	if src.ID == "" {
		id, err := sourceID(src)
		if err != nil {
			return "", fmt.Errorf("deriving source id: %w", err)
		}
		src.ID = id
	}
	sources, err := json.Marshal(src.Sources)
	if err != nil {
		return "", fmt.Errorf("encoding sources: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sources (id, language, compiler_version, file_name, contract_name, settings, sources, abi, artifacts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), src.ID, src.Language, src.CompilerVersion, src.FileName, src.ContractName,
		nullJSON(src.Settings), string(sources), nullJSON(src.ABI), nullJSON(src.Artifacts))
	if err != nil {
		return "", fmt.Errorf("inserting source: %w", err)
	}
	return src.ID, nil
}

// GetSource retrieves a verified source by id.
func (s *sqlStore) GetSource(ctx context.Context, id string) (*Source, error) {
	var src Source
	var settings, sources, abi, art []byte
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, language, compiler_version, file_name, contract_name, settings, sources, abi, artifacts, created_at
		FROM sources
		WHERE id = ?
	`), id).Scan(&src.ID, &src.Language, &src.CompilerVersion, &src.FileName, &src.ContractName,
		&settings, &sources, &abi, &art, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &src.Sources); err != nil {
			return nil, fmt.Errorf("decoding sources: %w", err)
		}
	}
	src.Settings = rawJSON(settings)
	src.ABI = rawJSON(abi)
	src.Artifacts = rawJSON(art)
	return &src, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
