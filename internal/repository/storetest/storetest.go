// Package storetest holds the behaviour every DocumentStore backend must share.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Backends sharing a database should give
// each call a fresh namespace.
type Factory func(t *testing.T) domain.DocumentStore

// Run executes the conformance suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutIfVersion", func(t *testing.T) { testPutIfVersion(t, newStore(t)) })
	t.Run("PutBumpsVersion", func(t *testing.T) { testPutBumpsVersion(t, newStore(t)) })
	t.Run("ListCreationOrder", func(t *testing.T) { testListCreationOrder(t, newStore(t)) })
	t.Run("DeleteTree", func(t *testing.T) { testDeleteTree(t, newStore(t)) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, newStore(t)) })
}

func testGetMissing(t *testing.T, s domain.DocumentStore) {
	_, err := s.Get(context.Background(), "users/nobody/models")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	entries, err := s.List(context.Background(), "chats/nobody/ALLY-3")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testPutIfVersion(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	path := "users/u1/models"

	require.NoError(t, s.PutIfVersion(ctx, path, []byte(`{"tokens":0}`), 0))
	assert.ErrorIs(t, s.PutIfVersion(ctx, path, []byte(`{"tokens":1}`), 0), domain.ErrVersionConflict)

	doc, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.False(t, doc.CreatedAt.IsZero())

	require.NoError(t, s.PutIfVersion(ctx, path, []byte(`{"tokens":1}`), 1))
	assert.ErrorIs(t, s.PutIfVersion(ctx, path, []byte(`{"tokens":9}`), 1), domain.ErrVersionConflict)

	doc, err = s.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	assert.JSONEq(t, `{"tokens":1}`, string(doc.Data))

	assert.ErrorIs(t, s.PutIfVersion(ctx, "users/u2/models", []byte(`{}`), 3), domain.ErrVersionConflict)
}

func testPutBumpsVersion(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	path := "users/u1/models"

	require.NoError(t, s.Put(ctx, path, []byte(`{"tokens":1}`)))
	require.NoError(t, s.Put(ctx, path, []byte(`{"tokens":2}`)))

	doc, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	assert.JSONEq(t, `{"tokens":2}`, string(doc.Data))
}

func testListCreationOrder(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, "chats/u1/ALLY-3/"+k, []byte(`{}`)))
	}
	require.NoError(t, s.Put(ctx, "chats/u1/ALLY-3/a/messages/m1", []byte(`{}`)))
	// rewriting keeps the original position
	require.NoError(t, s.Put(ctx, "chats/u1/ALLY-3/c", []byte(`{"x":1}`)))

	entries, err := s.List(ctx, "chats/u1/ALLY-3")
	require.NoError(t, err)
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"c", "a", "b"}, keys)
	assert.JSONEq(t, `{"x":1}`, string(entries[0].Data))
}

func testDeleteTree(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "chats/u1/ALLY-3/s1", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "chats/u1/ALLY-3/s1/messages/m1", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "chats/u1/ALLY-3/s10", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "chats/u1/ALLY-3%25/s1", []byte(`{}`)))

	require.NoError(t, s.DeleteTree(ctx, "chats/u1/ALLY-3/s1"))
	require.NoError(t, s.DeleteTree(ctx, "chats/u1/ALLY-3/missing"))

	_, err := s.Get(ctx, "chats/u1/ALLY-3/s1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	_, err = s.Get(ctx, "chats/u1/ALLY-3/s1/messages/m1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	_, err = s.Get(ctx, "chats/u1/ALLY-3/s10")
	assert.NoError(t, err)

	entries, err := s.List(ctx, "chats/u1/ALLY-3")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s10", entries[0].Key)

	require.NoError(t, s.DeleteTree(ctx, "chats/u1/ALLY-3"))
	entries, err = s.List(ctx, "chats/u1/ALLY-3")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = s.Get(ctx, "chats/u1/ALLY-3%25/s1")
	assert.NoError(t, err, "sibling namespace sharing a prefix must survive")
}

func testConcurrentIncrement(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	path := "counters/c1"
	require.NoError(t, s.PutIfVersion(ctx, path, []byte(`{"n":0}`), 0))

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				doc, err := s.Get(ctx, path)
				if err != nil {
					errs <- err
					return
				}
				var c struct{ N int }
				if err := json.Unmarshal(doc.Data, &c); err != nil {
					errs <- err
					return
				}
				err = s.PutIfVersion(ctx, path, []byte(fmt.Sprintf(`{"n":%d}`, c.N+1)), doc.Version)
				if errors.Is(err, domain.ErrVersionConflict) {
					continue
				}
				errs <- err
				return
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(workers+1), doc.Version)
}
