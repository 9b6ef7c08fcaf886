package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/cart/cache"
	"github.com/fjod/storefront/internal/cart/repository"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxAttempts bounds how often a mutation is replayed after losing a
// version race to another process.
const DefaultMaxAttempts = 3

var ErrLineNotFound = fmt.Errorf("cart line %w", domain.ErrNotFound)

// Boundary names the clamp edge an UpdateQuantity call ran into.
type Boundary string

const (
	BoundaryNone Boundary = ""
	BoundaryMin  Boundary = "min"
	BoundaryMax  Boundary = "max"
)

type AddItemRequest struct {
	ProductID    int64  `json:"product_id"`
	Size         string `json:"size,omitempty"`
	Color        string `json:"color,omitempty"`
	Quantity     int    `json:"quantity"`
	VariantImage string `json:"variant_image,omitempty"`
}

func (r AddItemRequest) Key() domain.LineKey {
	return domain.LineKey{ProductID: r.ProductID, Size: r.Size, Color: r.Color}
}

func (r AddItemRequest) Validate() error {
	v := &domain.ValidationError{}
	if r.ProductID <= 0 {
		v.Add("product_id", "must be positive")
	}
	if r.Quantity < 1 {
		v.Add("quantity", "must be at least 1")
	}
	return v.Err()
}

type UpdateResult struct {
	Line     domain.CartLine `json:"line"`
	Boundary Boundary        `json:"boundary,omitempty"`
}

// LineView is a cart line as shown to the customer. Unavailable lines are
// excluded from totals.
type LineView struct {
	domain.CartLine
	Unavailable bool `json:"unavailable"`
}

type CartView struct {
	Owner                 domain.Owner    `json:"owner"`
	Version               int64           `json:"version"`
	Lines                 []LineView      `json:"lines"`
	Totals                pricing.Totals  `json:"totals"`
	FreeDeliveryShortfall decimal.Decimal `json:"free_delivery_shortfall"`
}

type CartService struct {
	store       repository.Store
	cache       cache.CartCache
	catalog     catalog.Lookup
	engine      *pricing.Engine
	locks       *KeyedMutex
	logger      *slog.Logger
	maxAttempts int
	sfg         singleflight.Group // Prevents cache stampede
}

func NewCartService(
	store repository.Store,
	cartCache cache.CartCache,
	lookup catalog.Lookup,
	engine *pricing.Engine,
	locks *KeyedMutex,
	logger *slog.Logger,
) *CartService {
	return &CartService{
		store:       store,
		cache:       cartCache,
		catalog:     lookup,
		engine:      engine,
		locks:       locks,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
	}
}

// GetCart returns the owner's cart with freshly computed totals. A missing
// cart is an empty cart.
func (s *CartService) GetCart(ctx context.Context, owner domain.Owner) (*CartView, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	var err error
	if owner.Kind == domain.OwnerUser {
		cart, err = s.cachedCart(ctx, owner)
	} else {
		cart, err = s.load(ctx, owner)
	}
	if err != nil {
		return nil, err
	}
	return s.view(ctx, cart), nil
}

// cachedCart serves user carts from the read cache. A miss is filled while
// holding the owner lock: every mutation invalidates the cache under the
// same lock, so a fill can never land after a newer save.
func (s *CartService) cachedCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(owner.Key(), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, owner)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "cache get failed", "owner", owner.Key(), "error", err)
		}

		unlock, err := s.lock(ctx, owner)
		if err != nil {
			return nil, err
		}
		defer unlock()

		cart, err = s.store.Load(ctx, owner)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.NewCart(owner), nil
		}
		if err != nil {
			return nil, err
		}

		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.cache.Set(setCtx, cart); err != nil {
			s.logger.WarnContext(ctx, "cache set failed", "owner", owner.Key(), "error", err)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a flight must not share the slice
	return v.(*domain.Cart).Clone(), nil
}

// view refreshes stock figures and offers from the catalog and prices the
// available lines.
// A catalog outage degrades to the figures stored on the lines.
func (s *CartService) view(ctx context.Context, cart *domain.Cart) *CartView {
	out := &CartView{
		Owner:   cart.Owner,
		Version: cart.Version,
		Lines:   make([]LineView, 0, len(cart.Lines)),
	}

	products := make(map[int64]*domain.Product)
	gone := make(map[int64]bool)
	for _, id := range cart.ProductIDs() {
		p, err := s.catalog.GetProduct(ctx, id)
		switch {
		case err == nil:
			products[id] = p
		case errors.Is(err, domain.ErrNotFound):
			gone[id] = true
		default:
			s.logger.WarnContext(ctx, "catalog lookup failed, using stored line data", "product_id", id, "error", err)
		}
	}

	priced := make([]domain.CartLine, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		if p, ok := products[l.ProductID]; ok {
			l.Available = p.Available
			l.Name = p.Name
			l.CategoryName = p.Category
			// unit price stays as added
			l.OfferPercent = p.OfferPercent
		}
		lv := LineView{CartLine: l, Unavailable: gone[l.ProductID] || l.Available < 1}
		out.Lines = append(out.Lines, lv)
		if !lv.Unavailable {
			priced = append(priced, l)
		}
	}

	out.Totals = s.engine.Compute(priced)
	out.FreeDeliveryShortfall = s.engine.FreeDeliveryShortfall(out.Totals)
	return out
}

// AddItem adds req to the cart, merging with an existing line of the same
// product, size and color. The merged quantity is checked against a fresh
// catalog read; on StockExceeded the cart is left untouched.
func (s *CartService) AddItem(ctx context.Context, owner domain.Owner, req AddItemRequest) (*domain.CartLine, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	var added domain.CartLine
	_, err = s.mutate(ctx, owner, func(cart *domain.Cart) (bool, error) {
		i := cart.Find(req.Key())
		requested := req.Quantity
		if i >= 0 {
			requested += cart.Lines[i].Quantity
		}
		if requested > product.Available {
			return false, &domain.StockError{ProductID: product.ID, Requested: requested, Available: product.Available}
		}

		if i < 0 {
			cart.Lines = append(cart.Lines, domain.CartLine{
				ProductID:    req.ProductID,
				Size:         req.Size,
				Color:        req.Color,
				VariantImage: req.VariantImage,
				AddedAt:      time.Now().UTC(),
			})
			i = len(cart.Lines) - 1
		}
		cart.Lines[i].Quantity = requested
		cart.Lines[i].Refresh(*product)
		added = cart.Lines[i]
		return true, nil
	})
	if err != nil {
		s.logger.InfoContext(ctx, "add item rejected", "owner", owner.Key(), "product_id", req.ProductID, "error", err)
		return nil, err
	}
	return &added, nil
}

// UpdateQuantity moves a line's quantity by delta, clamped to [1, available].
// Hitting an edge is reported in the result, not as an error.
func (s *CartService) UpdateQuantity(ctx context.Context, owner domain.Owner, key domain.LineKey, delta int) (*UpdateResult, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, domain.Invalid("delta", "must not be zero")
	}

	unlock, err := s.lock(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	product, err := s.catalog.GetProduct(ctx, key.ProductID)
	if err != nil {
		return nil, err
	}

	var res UpdateResult
	_, err = s.mutate(ctx, owner, func(cart *domain.Cart) (bool, error) {
		i := cart.Find(key)
		if i < 0 {
			return false, fmt.Errorf("%s: %w", key, ErrLineNotFound)
		}
		line := &cart.Lines[i]
		if product.Available < 1 {
			return false, &domain.StockError{ProductID: product.ID, Requested: line.Quantity + delta, Available: product.Available}
		}

		target := line.Quantity + delta
		res.Boundary = BoundaryNone
		switch {
		case target < 1:
			target = 1
			res.Boundary = BoundaryMin
		case target > product.Available:
			target = product.Available
			res.Boundary = BoundaryMax
		}

		changed := target != line.Quantity || line.Available != product.Available
		line.Quantity = target
		line.Available = product.Available
		res.Line = *line
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RemoveItem deletes a line. Removing an absent line changes nothing.
func (s *CartService) RemoveItem(ctx context.Context, owner domain.Owner, key domain.LineKey) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, owner)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.mutate(ctx, owner, func(cart *domain.Cart) (bool, error) {
		return cart.Remove(key), nil
	})
	return err
}

func (s *CartService) ClearCart(ctx context.Context, owner domain.Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, owner)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, owner); err != nil {
		s.logger.ErrorContext(ctx, "delete cart failed", "owner", owner.Key(), "error", err)
		return err
	}
	s.invalidateCache(owner)
	return nil
}

// DeleteVersion removes the cart only while it is still at version. It is
// how a checked-out cart is retired once its order.placed event arrives.
func (s *CartService) DeleteVersion(ctx context.Context, owner domain.Owner, version int64) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, owner)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.DeleteVersion(ctx, owner, version); err != nil {
		return err
	}
	s.invalidateCache(owner)
	return nil
}

// MergeCarts folds a guest cart into a user cart after login. Quantities are
// capped at current stock and lines whose product vanished are dropped. The
// guest cart is deleted only after the user cart is saved.
func (s *CartService) MergeCarts(ctx context.Context, guest, user domain.Owner) (*CartView, error) {
	if guest.Kind != domain.OwnerGuest {
		return nil, domain.Invalid("guest", "must be a guest identity")
	}
	if user.Kind != domain.OwnerUser {
		return nil, domain.Invalid("user", "must be a user identity")
	}
	if err := guest.Validate(); err != nil {
		return nil, err
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	// guest and user keys never collide and are always taken in this order
	unlockGuest, err := s.lock(ctx, guest)
	if err != nil {
		return nil, err
	}
	defer unlockGuest()
	unlockUser, err := s.lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer unlockUser()

	guestCart, err := s.store.Load(ctx, guest)
	if errors.Is(err, repository.ErrCartNotFound) || (err == nil && guestCart.IsEmpty()) {
		return s.viewFromStore(ctx, user)
	}
	if err != nil {
		return nil, err
	}

	products := make(map[int64]*domain.Product)
	for _, id := range guestCart.ProductIDs() {
		p, err := s.catalog.GetProduct(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.InfoContext(ctx, "dropping vanished product from guest cart", "product_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		products[id] = p
	}

	merged, err := s.mutate(ctx, user, func(cart *domain.Cart) (bool, error) {
		changed := false
		for _, gl := range guestCart.Lines {
			p, ok := products[gl.ProductID]
			if !ok || p.Available < 1 {
				continue
			}
			i := cart.Find(gl.Key())
			if i < 0 {
				gl.Quantity = 0
				cart.Lines = append(cart.Lines, gl)
				i = len(cart.Lines) - 1
			}
			qty := min(cart.Lines[i].Quantity+gl.Quantity, p.Available)
			if qty < 1 {
				qty = 1
			}
			cart.Lines[i].Quantity = qty
			cart.Lines[i].Refresh(*p)
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Delete(ctx, guest); err != nil {
		s.logger.ErrorContext(ctx, "delete merged guest cart failed", "guest", guest.Key(), "error", err)
	}
	s.logger.InfoContext(ctx, "guest cart merged", "guest", guest.Key(), "user", user.Key(), "lines", len(merged.Lines))
	return s.view(ctx, merged), nil
}

func (s *CartService) viewFromStore(ctx context.Context, owner domain.Owner) (*CartView, error) {
	cart, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, cart), nil
}

func (s *CartService) lock(ctx context.Context, owner domain.Owner) (func(), error) {
	unlock, err := s.locks.Lock(ctx, owner.Key())
	if err != nil {
		return nil, domain.Persistence("acquire cart lock", err)
	}
	return unlock, nil
}

// load reads the authoritative cart, bypassing the cache.
func (s *CartService) load(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	cart, err := s.store.Load(ctx, owner)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(owner), nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// mutate applies fn to the current cart and saves it when fn reports a
// change, replaying on version conflicts. fn must be safe to run again.
func (s *CartService) mutate(ctx context.Context, owner domain.Owner, fn func(*domain.Cart) (bool, error)) (*domain.Cart, error) {
	for attempt := 1; ; attempt++ {
		cart, err := s.load(ctx, owner)
		if err != nil {
			return nil, err
		}
		changed, err := fn(cart)
		if err != nil {
			return nil, err
		}
		if !changed {
			return cart, nil
		}

		err = s.store.Save(ctx, cart)
		if err == nil {
			s.invalidateCache(owner)
			return cart, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			s.logger.ErrorContext(ctx, "save cart failed", "owner", owner.Key(), "error", err)
			return nil, err
		}
		if attempt >= s.maxAttempts {
			return nil, domain.Persistence("save cart", err)
		}
		s.logger.WarnContext(ctx, "cart version conflict, retrying", "owner", owner.Key(), "attempt", attempt)
	}
}

func (s *CartService) invalidateCache(owner domain.Owner) {
	if owner.Kind != domain.OwnerUser {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, owner); err != nil {
		s.logger.Warn("cache invalidate failed", "owner", owner.Key(), "error", err)
	}
}
