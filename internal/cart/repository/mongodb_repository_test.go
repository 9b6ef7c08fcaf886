package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
)

func setupTestDB(t *testing.T) (*MongoRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, MongoOptions{URI: uri, Database: "testdb"})
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))

	cleanup := func() {
		_ = db.Client().Disconnect(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func userCart(userID string) *domain.Cart {
	c := domain.NewCart(domain.User(userID))
	c.Lines = []domain.CartLine{
		{ProductID: 1, Size: "S", Name: "Kurta", UnitPrice: decimal.RequireFromString("799.90"), OfferPercent: decimal.NewFromInt(10), Quantity: 1, Available: 4},
		{ProductID: 1, Size: "L", Name: "Kurta", UnitPrice: decimal.RequireFromString("799.90"), OfferPercent: decimal.NewFromInt(10), Quantity: 2, Available: 4},
	}
	return c
}

func TestMongoLoad_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	cart, err := repo.Load(context.Background(), domain.User("nonexistent"))
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestMongoSave_RoundTripsVariantsAndMoney(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cart := userCart("user123")
	require.NoError(t, repo.Save(ctx, cart))
	assert.Equal(t, int64(1), cart.Version)

	loaded, err := repo.Load(ctx, domain.User("user123"))
	require.NoError(t, err)
	assert.Equal(t, domain.User("user123"), loaded.Owner)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, "S", loaded.Lines[0].Size)
	assert.Equal(t, "L", loaded.Lines[1].Size)
	assert.True(t, loaded.Lines[0].UnitPrice.Equal(decimal.RequireFromString("799.9")))
	assert.True(t, loaded.Lines[1].OfferPercent.Equal(decimal.NewFromInt(10)))
}

func TestMongoSave_VersionConflict(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, userCart("u1")))

	a, err := repo.Load(ctx, domain.User("u1"))
	require.NoError(t, err)
	b, err := repo.Load(ctx, domain.User("u1"))
	require.NoError(t, err)

	a.Lines[0].Quantity = 3
	require.NoError(t, repo.Save(ctx, a))

	b.Lines[0].Quantity = 4
	assert.ErrorIs(t, repo.Save(ctx, b), ErrVersionConflict)

	assert.ErrorIs(t, repo.Save(ctx, userCart("u1")), ErrVersionConflict, "insert over an existing cart")
}

func TestMongoDeleteVersion(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cart := userCart("u2")
	require.NoError(t, repo.Save(ctx, cart))

	assert.ErrorIs(t, repo.DeleteVersion(ctx, cart.Owner, 7), ErrVersionConflict)
	require.NoError(t, repo.DeleteVersion(ctx, cart.Owner, cart.Version))

	_, err := repo.Load(ctx, cart.Owner)
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.NoError(t, repo.DeleteVersion(ctx, cart.Owner, cart.Version))
}

func TestMongoDelete_Idempotent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, userCart("u3")))
	require.NoError(t, repo.Delete(ctx, domain.User("u3")))
	require.NoError(t, repo.Delete(ctx, domain.User("u3")))
}

func TestMongoContextCancellation(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond)

	_, err := repo.Load(ctx, domain.User("user123"))
	assert.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Contains(t, err.Error(), "context")
}

func TestMongoSave_UnencodablePriceIsPersistenceError(t *testing.T) {
	repo := &MongoRepository{}
	c := userCart("u1")
	// exponent beyond what Decimal128 can hold
	c.Lines[0].UnitPrice = decimal.New(1, 7000)

	err := repo.Save(context.Background(), c)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.ErrPersistence, domain.Kind(err))
}

func TestMongoCreateIndexes_UserCartsNeverExpire(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cur, err := repo.collection.Indexes().List(ctx)
	require.NoError(t, err)
	var specs []bson.M
	require.NoError(t, cur.All(ctx, &specs))

	require.NotEmpty(t, specs)
	for _, spec := range specs {
		assert.NotContains(t, spec, "expireAfterSeconds", "index %v", spec["name"])
	}
}
