package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

// CartCache holds read copies of persisted carts. It is never the source of truth.
type CartCache interface {
	Get(ctx context.Context, owner domain.Owner) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, owner domain.Owner) error
}

var ErrCacheMiss = errors.New("cache miss")
