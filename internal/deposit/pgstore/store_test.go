package pgstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/deposit/pgstore"
	"gamehub/payment-settlement/internal/deposit/storetest"
)

func TestContract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := pgstore.New(pool)
	require.NoError(t, store.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE deposits`)
	require.NoError(t, err)

	storetest.RunStoreContract(t, func(t *testing.T) deposit.Store {
		return store
	})
}
