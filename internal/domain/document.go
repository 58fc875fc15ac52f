package domain

import (
	"context"
	"time"
)

// Document is a JSON record addressed by a slash separated key path
type Document struct {
	Data      []byte
	Version   int64
	CreatedAt time.Time
}

// Entry is a direct child of a path returned by List
type Entry struct {
	Key string // last path segment
	Document
}

// DocumentStore is the persistence contract the bookkeeping core needs
type DocumentStore interface {
	// Get returns ErrDocumentNotFound for a missing path
	Get(ctx context.Context, path string) (*Document, error)

	// Put writes unconditionally (last write wins) and bumps the version
	Put(ctx context.Context, path string, data []byte) error

	// PutIfVersion writes only when the stored version equals version.
	// Version 0 means the path must not exist yet. Returns ErrVersionConflict otherwise.
	PutIfVersion(ctx context.Context, path string, data []byte, version int64) error

	// List returns the direct children of parent in creation order
	List(ctx context.Context, parent string) ([]Entry, error)

	// DeleteTree removes path and everything below it. Missing paths are not an error.
	DeleteTree(ctx context.Context, path string) error

	Ping(ctx context.Context) error
	Close() error
}
