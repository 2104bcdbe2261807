package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ferrors "github.com/fathomlabs/fathom/internal/errors"
)

// SQLiteDocumentStore implements DocumentStore on SQLite.
// WAL mode allows concurrent readers; a single connection serializes
// writes and prevents lock contention.
type SQLiteDocumentStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ DocumentStore = (*SQLiteDocumentStore)(nil)

// NewSQLiteDocumentStore opens or creates a document store at path.
// An empty path creates an in-memory store for testing.
func NewSQLiteDocumentStore(path string) (*SQLiteDocumentStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteDocumentStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the documents table.
func (s *SQLiteDocumentStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		metadata    TEXT NOT NULL DEFAULT '{}',
		embedding   BLOB,
		version     INTEGER NOT NULL DEFAULT 1,
		updated_at  TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or replaces a document. On replace the stored version is
// incremented; doc.Version and doc.UpdatedAt are updated to the stored
// values on return.
func (s *SQLiteDocumentStore) Put(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return ferrors.InvalidArgument("document must have an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ferrors.New(ferrors.ErrCodeStoreFailed, "store is closed", nil)
	}

	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, description, metadata, embedding, version, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			title       = excluded.title,
			description = excluded.description,
			metadata    = excluded.metadata,
			embedding   = excluded.embedding,
			version     = documents.version + 1,
			updated_at  = excluded.updated_at
		RETURNING version`,
		doc.ID, doc.Title, doc.Description, string(metaJSON),
		encodeEmbedding(doc.Embedding), now.Format(time.RFC3339Nano))
	if err := row.Scan(&doc.Version); err != nil {
		return ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}
	doc.UpdatedAt = now

	return nil
}

// Get returns a document by id.
func (s *SQLiteDocumentStore) Get(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ferrors.New(ferrors.ErrCodeStoreFailed, "store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, metadata, embedding, version, updated_at
		FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ferrors.NotFound(id)
	}
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}
	return doc, nil
}

// Delete removes a document by id.
func (s *SQLiteDocumentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ferrors.New(ferrors.ErrCodeStoreFailed, "store is closed", nil)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}
	if affected == 0 {
		return ferrors.NotFound(id)
	}

	return nil
}

// List returns documents ordered by id. limit <= 0 means no limit.
func (s *SQLiteDocumentStore) List(ctx context.Context, offset, limit int) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ferrors.New(ferrors.ErrCodeStoreFailed, "store is closed", nil)
	}

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, metadata, embedding, version, updated_at
		FROM documents ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}

	return docs, nil
}

// Count returns the number of stored documents.
func (s *SQLiteDocumentStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ferrors.New(ferrors.ErrCodeStoreFailed, "store is closed", nil)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}
	return count, nil
}

// AllIDs returns every stored document id.
func (s *SQLiteDocumentStore) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ferrors.New(ferrors.ErrCodeStoreFailed, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeStoreFailed, err)
	}

	return ids, nil
}

// Close closes the database.
func (s *SQLiteDocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanDocument.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var (
		doc       Document
		metaJSON  string
		embedding []byte
		updatedAt string
	)
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &metaJSON, &embedding, &doc.Version, &updatedAt); err != nil {
		return nil, err
	}
	doc.Embedding = decodeEmbedding(embedding)

	if metaJSON != "" && metaJSON != "{}" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", doc.ID, err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", doc.ID, err)
	}
	doc.UpdatedAt = t

	return &doc, nil
}

// encodeEmbedding packs a vector as little-endian float32 bits.
// Returns nil for an empty vector so the column stays NULL.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
