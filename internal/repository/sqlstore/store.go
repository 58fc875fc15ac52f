package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
)

// Store implements domain.DocumentStore over database/sql
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects, verifies the connection and creates the schema
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect.Name, err)
	}
	if dialect.maxConns > 0 {
		db.SetMaxOpenConns(dialect.maxConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect.Name, err)
	}

	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db, dialect: dialect, now: time.Now}, nil
}

func (s *Store) Get(ctx context.Context, path string) (*domain.Document, error) {
	query := `SELECT data, version, created_at FROM documents WHERE path = ?`

	var (
		data    string
		doc     domain.Document
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, path).Scan(&data, &doc.Version, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc.Data = []byte(data)
	doc.CreatedAt = time.UnixMilli(created).UTC()
	return &doc, nil
}

func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	parent, key := domain.SplitPath(path)
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, path, parent, key, string(data), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

func (s *Store) PutIfVersion(ctx context.Context, path string, data []byte, version int64) error {
	var (
		res sql.Result
		err error
	)
	if version == 0 {
		parent, key := domain.SplitPath(path)
		res, err = s.db.ExecContext(ctx, s.dialect.insert, path, parent, key, string(data), s.now().UnixMilli())
		if err != nil && s.dialect.isDuplicate(err) {
			return domain.ErrVersionConflict
		}
	} else {
		query := `UPDATE documents SET data = ?, version = version + 1 WHERE path = ? AND version = ?`
		res, err = s.db.ExecContext(ctx, query, string(data), path, version)
	}
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if n == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *Store) List(ctx context.Context, parent string) ([]domain.Entry, error) {
	query := `SELECT name, data, version, created_at FROM documents WHERE parent = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	entries := []domain.Entry{}
	for rows.Next() {
		var (
			e       domain.Entry
			data    string
			created int64
		)
		if err := rows.Scan(&e.Key, &data, &e.Version, &created); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		e.Data = []byte(data)
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return entries, nil
}

func (s *Store) DeleteTree(ctx context.Context, path string) error {
	prefix := path + "/"
	if _, err := s.db.ExecContext(ctx, s.dialect.deleteTree, path, prefix, prefix); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
