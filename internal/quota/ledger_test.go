package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLedger(store domain.DocumentStore) (*Ledger, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	l := NewLedger(store, 0, 0)
	l.now = c.Now
	return l, c
}

func seed(t *testing.T, store domain.DocumentStore, userID string, q domain.UserQuota) {
	t.Helper()
	data, err := domain.MarshalQuota(q)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), domain.QuotaPath(userID), data))
}

func TestLedger_FreshUser(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	l, c := newTestLedger(store)

	q, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, q.Tokens)
	assert.WithinDuration(t, c.Now().Add(24*time.Hour), q.ResetAt, time.Millisecond)

	// persisted before returning
	_, err = store.Get(ctx, domain.QuotaPath("u1"))
	assert.NoError(t, err)
}

func TestLedger_SameWindowIsStable(t *testing.T) {
	ctx := context.Background()
	l, c := newTestLedger(memory.NewStore())

	first, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)

	ok, err := l.Debit(ctx, "u1", 3)
	require.NoError(t, err)
	require.True(t, ok)
	c.Advance(time.Hour)

	second, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, first.ResetAt.Equal(second.ResetAt))
	assert.GreaterOrEqual(t, second.Tokens, first.Tokens)
	assert.Equal(t, 3, second.Tokens)
}

func TestLedger_ResetAfterWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	l, c := newTestLedger(store)
	seed(t, store, "u1", domain.UserQuota{Tokens: 60, ResetAt: c.Now().Add(time.Minute)})

	c.Advance(2 * time.Minute)

	q, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, q.Tokens)
	assert.WithinDuration(t, c.Now().Add(Window), q.ResetAt, time.Millisecond)

	// reading again inside the new window does not reset a second time
	ok, err := l.Debit(ctx, "u1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	again, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Tokens)
	assert.True(t, q.ResetAt.Equal(again.ResetAt))
}

func TestLedger_DebitAtBoundary(t *testing.T) {
	tests := []struct {
		name       string
		cost       int
		wantOK     bool
		wantTokens int
	}{
		{"exactly reaches limit", 1, true, 75},
		{"would exceed limit", 2, false, 74},
		{"zero cost", 0, true, 74},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewStore()
			l, c := newTestLedger(store)
			seed(t, store, "u1", domain.UserQuota{Tokens: 74, ResetAt: c.Now().Add(time.Hour)})

			ok, err := l.Debit(ctx, "u1", tt.cost)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)

			q, err := l.GetQuota(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantTokens, q.Tokens)
		})
	}
}

func TestLedger_SequentialDebitsNeverExceedLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(memory.NewStore())

	costs := []int{1, 6, 11, 1, 1, 6, 11, 11, 6, 1, 11, 11, 6, 6, 1, 1, 11}
	for _, cost := range costs {
		afford, err := l.CanAfford(ctx, "u1", cost)
		require.NoError(t, err)

		ok, err := l.Debit(ctx, "u1", cost)
		require.NoError(t, err)
		assert.Equal(t, afford, ok)

		q, err := l.GetQuota(ctx, "u1")
		require.NoError(t, err)
		assert.LessOrEqual(t, q.Tokens, DailyLimit)
	}
}

func TestLedger_ConcurrentDebitsDoNotOvershoot(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(memory.NewStore())
	_, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Debit(ctx, "u1", 1)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrQuotaContention)
				return
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	q, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.LessOrEqual(t, q.Tokens, DailyLimit)
	assert.Equal(t, succeeded, q.Tokens)
}

func TestLedger_CanAffordDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	l, c := newTestLedger(store)
	seed(t, store, "u1", domain.UserQuota{Tokens: 70, ResetAt: c.Now().Add(time.Hour)})

	ok, err := l.CanAfford(ctx, "u1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.CanAfford(ctx, "u1", 6)
	require.NoError(t, err)
	assert.False(t, ok)

	q, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 70, q.Tokens)
}

func TestLedger_NegativeCost(t *testing.T) {
	l, _ := newTestLedger(memory.NewStore())

	_, err := l.Debit(context.Background(), "u1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidCost)
	ok, err := l.CanAfford(context.Background(), "u1", -1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrInvalidCost)
}

// brokenStore fails every read
type brokenStore struct {
	*memory.Store
}

func (b brokenStore) Get(ctx context.Context, path string) (*domain.Document, error) {
	return nil, errors.New("connection refused")
}

func TestLedger_FailsClosed(t *testing.T) {
	l, _ := newTestLedger(brokenStore{memory.NewStore()})

	ok, err := l.CanAfford(context.Background(), "u1", 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)

	ok, err = l.Debit(context.Background(), "u1", 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
}

// contendedStore loses every conditional write
type contendedStore struct {
	*memory.Store
}

func (c contendedStore) PutIfVersion(ctx context.Context, path string, data []byte, version int64) error {
	if version == 0 {
		return c.Store.PutIfVersion(ctx, path, data, version)
	}
	return domain.ErrVersionConflict
}

func TestLedger_ContentionIsSurfaced(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(contendedStore{memory.NewStore()})
	_, err := l.GetQuota(ctx, "u1")
	require.NoError(t, err)

	ok, err := l.Debit(ctx, "u1", 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrQuotaContention)
}
