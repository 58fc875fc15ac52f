package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryCache_SetRejectedAfterInvalidate(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := NewClientFrom(redis.NewClient(&redis.Options{Addr: addr}))
	defer client.Close()

	cache := NewSummaryCache(client, time.Minute)
	userID := "test-" + uuid.NewString()
	defer cache.Invalidate(ctx, userID, domain.ModelAlly3)

	stale := []domain.SessionSummary{{ID: "old"}}

	gen, ok := cache.Generation(ctx, userID, domain.ModelAlly3)
	require.True(t, ok)

	// a write lands between reading the generation and caching the list
	cache.Invalidate(ctx, userID, domain.ModelAlly3)
	cache.Set(ctx, userID, domain.ModelAlly3, gen, stale)

	_, hit := cache.Get(ctx, userID, domain.ModelAlly3)
	assert.False(t, hit)

	gen, ok = cache.Generation(ctx, userID, domain.ModelAlly3)
	require.True(t, ok)
	cache.Set(ctx, userID, domain.ModelAlly3, gen, stale)

	got, hit := cache.Get(ctx, userID, domain.ModelAlly3)
	require.True(t, hit)
	assert.Equal(t, stale, got)
}
