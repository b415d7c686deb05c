package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
    path       TEXT PRIMARY KEY,
    data       TEXT    NOT NULL DEFAULT '{}',
    version    INTEGER NOT NULL DEFAULT 1,
    created_at TEXT    NOT NULL,
    updated_at TEXT    NOT NULL
);`

const (
	sqliteGetDocument = `SELECT data, version, created_at, updated_at FROM documents WHERE path = ?`

	sqliteCreateDocument = `
INSERT INTO documents (path, data, version, created_at, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (path) DO NOTHING`

	sqliteSetDocument = `
INSERT INTO documents (path, data, version, created_at, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (path) DO UPDATE
SET data = excluded.data,
    version = documents.version + 1,
    updated_at = excluded.updated_at`

	sqliteUpdateDocument = `
UPDATE documents
SET data = ?,
    version = version + 1,
    updated_at = ?
WHERE path = ? AND version = ?`

	sqliteDocumentForUpdate = `SELECT data, version FROM documents WHERE path = ?`
)

// SQLiteStore is the local-development document store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database at dsn and ensures the
// documents table exists. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: an in-memory database is per connection, and a single
	// writer avoids SQLITE_BUSY on commit.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	var raw, created, updated string
	doc := &Document{Path: path}
	err := s.db.QueryRowContext(ctx, sqliteGetDocument, path).Scan(&raw, &doc.Version, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}

	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	doc.Data, err = decodeData([]byte(raw))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, batch *Batch) error {
	if err := batch.validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)
	for _, w := range batch.writes {
		if err := s.apply(ctx, tx, w, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) apply(ctx context.Context, tx *sql.Tx, w Write, now string) error {
	data, err := encodeData(w.Data)
	if err != nil {
		return writeError(w, err)
	}

	switch w.Kind {
	case WriteCreate:
		res, err := tx.ExecContext(ctx, sqliteCreateDocument, w.Path, string(data), now, now)
		if err != nil {
			return writeError(w, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return writeError(w, ErrAlreadyExists)
		}
	case WriteSet:
		if _, err := tx.ExecContext(ctx, sqliteSetDocument, w.Path, string(data), now, now); err != nil {
			return writeError(w, err)
		}
	case WriteUpdate:
		if err := s.update(ctx, tx, w, now); err != nil {
			return writeError(w, err)
		}
	default:
		return writeError(w, ErrInvalidWrite)
	}
	return nil
}

// update merges top-level fields in Go rather than with json_patch, which
// drops null values and merges nested objects.
func (s *SQLiteStore) update(ctx context.Context, tx *sql.Tx, w Write, now string) error {
	var raw string
	var version int64
	err := tx.QueryRowContext(ctx, sqliteDocumentForUpdate, w.Path).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if w.IfVersion != 0 && version != w.IfVersion {
		return ErrConflict
	}

	merged, err := decodeData([]byte(raw))
	if err != nil {
		return err
	}
	for k, v := range w.Data {
		merged[k] = v
	}
	data, err := encodeData(merged)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, sqliteUpdateDocument, string(data), now, w.Path, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}
