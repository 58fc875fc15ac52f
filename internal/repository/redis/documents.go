package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	docPrefix   = "doc:"
	indexPrefix = "idx:"
	seqKey      = "docseq"
)

// putScript writes a document hash and registers it in its parent's index on creation.
// ARGV[2] is the expected version, -1 for an unconditional write.
var putScript = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if ARGV[2] ~= '-1' and v ~= tonumber(ARGV[2]) then
  return -1
end
if v == 0 then
  local seq = redis.call('INCR', KEYS[3])
  redis.call('HSET', KEYS[1], 'created', ARGV[3])
  redis.call('ZADD', KEYS[2], seq, ARGV[4])
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', v + 1)
return v + 1
`)

// DocumentStore keeps documents as Redis hashes with a sorted-set index per parent
type DocumentStore struct {
	client *Client
	now    func() time.Time
}

// NewDocumentStore creates a Redis backed document store
func NewDocumentStore(client *Client) *DocumentStore {
	return &DocumentStore{client: client, now: time.Now}
}

func docKey(path string) string {
	return docPrefix + path
}

func indexKey(parent string) string {
	return indexPrefix + parent
}

func (s *DocumentStore) Get(ctx context.Context, path string) (*domain.Document, error) {
	fields, err := s.client.rdb.HGetAll(ctx, docKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decodeDocument(fields)
}

func (s *DocumentStore) Put(ctx context.Context, path string, data []byte) error {
	_, err := s.put(ctx, path, data, -1)
	return err
}

func (s *DocumentStore) PutIfVersion(ctx context.Context, path string, data []byte, version int64) error {
	v, err := s.put(ctx, path, data, version)
	if err != nil {
		return err
	}
	if v < 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *DocumentStore) put(ctx context.Context, path string, data []byte, version int64) (int64, error) {
	parent, key := domain.SplitPath(path)
	keys := []string{docKey(path), indexKey(parent), seqKey}
	args := []any{data, strconv.FormatInt(version, 10), s.now().UnixMilli(), key}

	v, err := putScript.Run(ctx, s.client.rdb, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to put document: %w", err)
	}
	return v, nil
}

func (s *DocumentStore) List(ctx context.Context, parent string) ([]domain.Entry, error) {
	keys, err := s.client.rdb.ZRange(ctx, indexKey(parent), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if len(keys) == 0 {
		return []domain.Entry{}, nil
	}

	pipe := s.client.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, docKey(parent+"/"+key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	entries := make([]domain.Entry, 0, len(keys))
	for i, cmd := range cmds {
		doc, err := decodeDocument(cmd.Val())
		if errors.Is(err, domain.ErrDocumentNotFound) {
			// index entry outlived its document, e.g. an interrupted delete
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.Entry{Key: keys[i], Document: *doc})
	}
	return entries, nil
}

func (s *DocumentStore) DeleteTree(ctx context.Context, path string) error {
	for _, prefix := range []string{docKey(path) + "/", indexKey(path) + "/"} {
		if _, err := s.client.deleteMatching(ctx, globEscape(prefix)+"*"); err != nil {
			return fmt.Errorf("failed to delete subtree: %w", err)
		}
	}

	parent, key := domain.SplitPath(path)
	pipe := s.client.rdb.TxPipeline()
	pipe.Del(ctx, docKey(path), indexKey(path))
	pipe.ZRem(ctx, indexKey(parent), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close is a no-op; the shared client is closed by its owner
func (s *DocumentStore) Close() error {
	return nil
}

func decodeDocument(fields map[string]string) (*domain.Document, error) {
	if len(fields) == 0 {
		return nil, domain.ErrDocumentNotFound
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt document version %q: %w", fields["version"], err)
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt document timestamp %q: %w", fields["created"], err)
	}

	return &domain.Document{
		Data:      []byte(fields["data"]),
		Version:   version,
		CreatedAt: time.UnixMilli(created).UTC(),
	}, nil
}

// globEscape quotes the SCAN MATCH metacharacters in s
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
