package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrCartNotFound = fmt.Errorf("cart %w", domain.ErrNotFound)
	// ErrVersionConflict means the cart changed since it was loaded.
	ErrVersionConflict = errors.New("cart version conflict")
)

// Store persists carts. Save and DeleteVersion are compare-and-swap on
// Cart.Version: Save succeeds only if the stored version still equals the
// version the cart was loaded at (0 for a new cart) and then bumps it.
type Store interface {
	Load(ctx context.Context, owner domain.Owner) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	// Delete removes the cart unconditionally. Deleting a missing cart is not an error.
	Delete(ctx context.Context, owner domain.Owner) error
	// DeleteVersion removes the cart only if it is still at version.
	DeleteVersion(ctx context.Context, owner domain.Owner, version int64) error
}
