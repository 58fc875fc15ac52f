package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/repository/storetest"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Set TEST_POSTGRES_DSN to a disposable database with migrations applied
func TestDocumentStore_Conformance(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	storetest.Run(t, func(t *testing.T) domain.DocumentStore {
		_, err := pool.Exec(ctx, `TRUNCATE documents`)
		require.NoError(t, err)
		return NewDocumentStore(&DB{Pool: pool})
	})
}
