package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
)

type record struct {
	data      []byte
	version   int64
	createdAt time.Time
	seq       uint64
}

// Store is a process-local DocumentStore, used for tests and single-node development
type Store struct {
	mu   sync.RWMutex
	docs map[string]record
	seq  uint64
	now  func() time.Time
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		docs: make(map[string]record),
		now:  time.Now,
	}
}

func (s *Store) Get(ctx context.Context, path string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[path]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return toDocument(rec), nil
}

func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.write(path, data)
	return nil
}

func (s *Store) PutIfVersion(ctx context.Context, path string, data []byte, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs[path].version != version {
		return domain.ErrVersionConflict
	}
	s.write(path, data)
	return nil
}

// write must be called with the lock held
func (s *Store) write(path string, data []byte) {
	rec, ok := s.docs[path]
	if !ok {
		s.seq++
		rec = record{createdAt: s.now(), seq: s.seq}
	}
	rec.data = append([]byte(nil), data...)
	rec.version++
	s.docs[path] = rec
}

func (s *Store) List(ctx context.Context, parent string) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type child struct {
		key string
		rec record
	}
	var children []child
	for path, rec := range s.docs {
		p, key := domain.SplitPath(path)
		if p == parent {
			children = append(children, child{key: key, rec: rec})
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].rec.seq < children[j].rec.seq
	})

	entries := make([]domain.Entry, 0, len(children))
	for _, c := range children {
		entries = append(entries, domain.Entry{Key: c.key, Document: *toDocument(c.rec)})
	}
	return entries, nil
}

func (s *Store) DeleteTree(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := path + "/"
	for p := range s.docs {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.docs, p)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func toDocument(rec record) *domain.Document {
	return &domain.Document{
		Data:      append([]byte(nil), rec.data...),
		Version:   rec.version,
		CreatedAt: rec.createdAt,
	}
}
