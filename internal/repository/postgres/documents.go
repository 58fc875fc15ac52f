package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/jackc/pgx/v5"
)

// DocumentStore implements domain.DocumentStore on the documents table
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a Postgres backed document store
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Get(ctx context.Context, path string) (*domain.Document, error) {
	query := `SELECT data, version, created_at FROM documents WHERE path = $1`

	var doc domain.Document
	err := s.db.Pool.QueryRow(ctx, query, path).Scan(&doc.Data, &doc.Version, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStore) Put(ctx context.Context, path string, data []byte) error {
	parent, key := domain.SplitPath(path)
	query := `
		INSERT INTO documents (path, parent, key, data, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (path) DO UPDATE
		SET data = EXCLUDED.data, version = documents.version + 1
	`
	if _, err := s.db.Pool.Exec(ctx, query, path, parent, key, data); err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

func (s *DocumentStore) PutIfVersion(ctx context.Context, path string, data []byte, version int64) error {
	if version == 0 {
		parent, key := domain.SplitPath(path)
		query := `
			INSERT INTO documents (path, parent, key, data, version)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (path) DO NOTHING
		`
		tag, err := s.db.Pool.Exec(ctx, query, path, parent, key, data)
		if err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
		return nil
	}

	query := `UPDATE documents SET data = $2, version = version + 1 WHERE path = $1 AND version = $3`
	tag, err := s.db.Pool.Exec(ctx, query, path, data, version)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *DocumentStore) List(ctx context.Context, parent string) ([]domain.Entry, error) {
	query := `
		SELECT key, data, version, created_at
		FROM documents
		WHERE parent = $1
		ORDER BY seq
	`
	rows, err := s.db.Pool.Query(ctx, query, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	entries := []domain.Entry{}
	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.Key, &e.Data, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return entries, nil
}

func (s *DocumentStore) DeleteTree(ctx context.Context, path string) error {
	query := `DELETE FROM documents WHERE path = $1 OR left(path, length($2)) = $2`
	if _, err := s.db.Pool.Exec(ctx, query, path, path+"/"); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *DocumentStore) Close() error {
	s.db.Close()
	return nil
}
