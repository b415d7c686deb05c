package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps documents as jsonb rows in the documents table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	pgGetDocument = `
SELECT data, version, created_at, updated_at
FROM documents
WHERE path = $1`

	pgCreateDocument = `
INSERT INTO documents (path, data)
VALUES ($1, $2::jsonb)
ON CONFLICT (path) DO NOTHING`

	pgSetDocument = `
INSERT INTO documents (path, data)
VALUES ($1, $2::jsonb)
ON CONFLICT (path) DO UPDATE
SET data = EXCLUDED.data,
    version = documents.version + 1,
    updated_at = now()`

	pgUpdateDocument = `
UPDATE documents
SET data = data || $2::jsonb,
    version = version + 1,
    updated_at = now()
WHERE path = $1 AND ($3::bigint = 0 OR version = $3)`

	pgDocumentVersion = `SELECT version FROM documents WHERE path = $1`
)

func (s *PostgresStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	var raw []byte
	doc := &Document{Path: path}
	err := s.db.QueryRow(ctx, pgGetDocument, path).Scan(&raw, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}

	doc.Data, err = decodeData(raw)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *PostgresStore) Commit(ctx context.Context, batch *Batch) error {
	if err := batch.validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, w := range batch.writes {
		if err := s.apply(ctx, tx, w); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) apply(ctx context.Context, tx pgx.Tx, w Write) error {
	data, err := encodeData(w.Data)
	if err != nil {
		return writeError(w, err)
	}

	switch w.Kind {
	case WriteCreate:
		tag, err := tx.Exec(ctx, pgCreateDocument, w.Path, string(data))
		if err != nil {
			return writeError(w, err)
		}
		if tag.RowsAffected() == 0 {
			return writeError(w, ErrAlreadyExists)
		}
	case WriteSet:
		if _, err := tx.Exec(ctx, pgSetDocument, w.Path, string(data)); err != nil {
			return writeError(w, err)
		}
	case WriteUpdate:
		tag, err := tx.Exec(ctx, pgUpdateDocument, w.Path, string(data), w.IfVersion)
		if err != nil {
			return writeError(w, err)
		}
		if tag.RowsAffected() == 0 {
			var version int64
			err := tx.QueryRow(ctx, pgDocumentVersion, w.Path).Scan(&version)
			if errors.Is(err, pgx.ErrNoRows) {
				return writeError(w, ErrNotFound)
			}
			if err != nil {
				return writeError(w, err)
			}
			return writeError(w, ErrConflict)
		}
	default:
		return writeError(w, ErrInvalidWrite)
	}
	return nil
}
