package catalog

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
)

// Lookup is the read-only view of the catalog the cart core depends on.
// GetProduct returns an error matching domain.ErrNotFound when the product
// no longer exists.
type Lookup interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}
