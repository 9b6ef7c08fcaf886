package repository

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
)

// Router is a Store that sends guest carts to one backend and user carts to
// another. Callers never see which backend served them.
type Router struct {
	guests Store
	users  Store
}

func NewRouter(guests, users Store) *Router {
	return &Router{guests: guests, users: users}
}

func (r *Router) pick(owner domain.Owner) (Store, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if owner.Kind == domain.OwnerGuest {
		return r.guests, nil
	}
	return r.users, nil
}

func (r *Router) Load(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	s, err := r.pick(owner)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, owner)
}

func (r *Router) Save(ctx context.Context, cart *domain.Cart) error {
	s, err := r.pick(cart.Owner)
	if err != nil {
		return err
	}
	return s.Save(ctx, cart)
}

func (r *Router) Delete(ctx context.Context, owner domain.Owner) error {
	s, err := r.pick(owner)
	if err != nil {
		return err
	}
	return s.Delete(ctx, owner)
}

func (r *Router) DeleteVersion(ctx context.Context, owner domain.Owner, version int64) error {
	s, err := r.pick(owner)
	if err != nil {
		return err
	}
	return s.DeleteVersion(ctx, owner, version)
}
