package mongostore_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/deposit/mongostore"
	"gamehub/payment-settlement/internal/deposit/storetest"
)

func TestContract(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("settlement_test_" + uuid.NewString()[:8])
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	store := mongostore.New(db)
	require.NoError(t, store.EnsureIndexes(ctx))

	storetest.RunStoreContract(t, func(t *testing.T) deposit.Store {
		return store
	})
}
