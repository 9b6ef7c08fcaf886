package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultGuestTTL is how long an untouched guest cart lives.
const DefaultGuestTTL = 7 * 24 * time.Hour

// RedisRepository keeps guest carts. They are ephemeral: every save pushes
// the expiry forward, and nothing survives the TTL.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultGuestTTL
	}
	return &RedisRepository{client: client, ttl: ttl}
}

func (r *RedisRepository) Load(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, storeKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, domain.Persistence("redis get cart", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, domain.Persistence("redis load cart", fmt.Errorf("unmarshal cart failed: %w", err))
	}
	return &cart, nil
}

func (r *RedisRepository) Save(ctx context.Context, cart *domain.Cart) error {
	key := storeKey(cart.Owner)
	next := cart.Clone()
	next.Version = cart.Version + 1
	next.UpdatedAt = time.Now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != cart.Version {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, redis.TxFailedErr) {
			return ErrVersionConflict
		}
		return domain.Persistence("redis save cart", err)
	}

	cart.Version = next.Version
	cart.CreatedAt = next.CreatedAt
	cart.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, owner domain.Owner) error {
	if err := r.client.Del(ctx, storeKey(owner)).Err(); err != nil {
		return domain.Persistence("redis delete cart", err)
	}
	return nil
}

func (r *RedisRepository) DeleteVersion(ctx context.Context, owner domain.Owner, version int64) error {
	key := storeKey(owner)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current == 0 {
			return nil
		}
		if current != version {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, redis.TxFailedErr) {
			return ErrVersionConflict
		}
		return domain.Persistence("redis delete cart", err)
	}
	return nil
}

// storedVersion returns 0 when no cart is stored under key.
func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return head.Version, nil
}

func storeKey(owner domain.Owner) string {
	return fmt.Sprintf("cart:store:%s", owner.Key())
}
