package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})
	return NewRedisRepository(client, time.Hour), mr
}

func guestCart(session string) *domain.Cart {
	c := domain.NewCart(domain.Guest(session))
	c.Lines = []domain.CartLine{{
		ProductID:    1,
		Size:         "M",
		Name:         "Hoodie",
		UnitPrice:    decimal.RequireFromString("1499.99"),
		OfferPercent: decimal.NewFromInt(20),
		Quantity:     2,
		Available:    5,
	}}
	return c
}

func TestRedisLoad_NotFound(t *testing.T) {
	repo, _ := setupTestRedis(t)

	cart, err := repo.Load(context.Background(), domain.Guest("nobody"))
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, cart)
}

func TestRedisSave_NewCartThenLoad(t *testing.T) {
	repo, mr := setupTestRedis(t)
	ctx := context.Background()

	cart := guestCart("s1")
	require.NoError(t, repo.Save(ctx, cart))
	assert.Equal(t, int64(1), cart.Version)

	loaded, err := repo.Load(ctx, domain.Guest("s1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, "Hoodie", loaded.Lines[0].Name)
	assert.True(t, loaded.Lines[0].UnitPrice.Equal(decimal.RequireFromString("1499.99")))

	ttl := mr.TTL(storeKey(domain.Guest("s1")))
	assert.Equal(t, time.Hour, ttl)
}

func TestRedisSave_StaleVersionConflicts(t *testing.T) {
	repo, _ := setupTestRedis(t)
	ctx := context.Background()

	cart := guestCart("s2")
	require.NoError(t, repo.Save(ctx, cart))

	first, err := repo.Load(ctx, cart.Owner)
	require.NoError(t, err)
	second, err := repo.Load(ctx, cart.Owner)
	require.NoError(t, err)

	first.Lines[0].Quantity = 3
	require.NoError(t, repo.Save(ctx, first))

	second.Lines[0].Quantity = 4
	assert.ErrorIs(t, repo.Save(ctx, second), ErrVersionConflict)

	loaded, err := repo.Load(ctx, cart.Owner)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Lines[0].Quantity)
	assert.Equal(t, int64(2), loaded.Version)
}

func TestRedisSave_NewCartOverExistingConflicts(t *testing.T) {
	repo, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, guestCart("s3")))
	assert.ErrorIs(t, repo.Save(ctx, guestCart("s3")), ErrVersionConflict)
}

func TestRedisSave_ExpiredCartIsGone(t *testing.T) {
	repo, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, guestCart("s4")))
	mr.FastForward(2 * time.Hour)

	_, err := repo.Load(ctx, domain.Guest("s4"))
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestRedisDelete_Idempotent(t *testing.T) {
	repo, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, guestCart("s5")))
	require.NoError(t, repo.Delete(ctx, domain.Guest("s5")))
	assert.False(t, mr.Exists(storeKey(domain.Guest("s5"))))
	assert.NoError(t, repo.Delete(ctx, domain.Guest("s5")))
}

func TestRedisDeleteVersion(t *testing.T) {
	repo, mr := setupTestRedis(t)
	ctx := context.Background()

	cart := guestCart("s6")
	require.NoError(t, repo.Save(ctx, cart))
	require.NoError(t, repo.Save(ctx, cart))

	assert.ErrorIs(t, repo.DeleteVersion(ctx, cart.Owner, 1), ErrVersionConflict)
	assert.True(t, mr.Exists(storeKey(cart.Owner)))

	require.NoError(t, repo.DeleteVersion(ctx, cart.Owner, 2))
	assert.False(t, mr.Exists(storeKey(cart.Owner)))

	assert.NoError(t, repo.DeleteVersion(ctx, cart.Owner, 2), "already gone")
}

func TestRedisLoad_CorruptPayload(t *testing.T) {
	repo, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(storeKey(domain.Guest("bad")), `{"owner":`))

	_, err := repo.Load(context.Background(), domain.Guest("bad"))
	require.ErrorContains(t, err, "unmarshal cart failed")
}
