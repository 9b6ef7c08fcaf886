package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/cart/cache"
	cartrepo "github.com/fjod/storefront/internal/cart/repository"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	orderrepo "github.com/fjod/storefront/internal/order/repository"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/google/uuid"
)

var ErrEmptyCart = domain.Invalid("cart", "cart is empty, nothing to checkout")

// Locker is shared with the cart service so checkout and cart mutations on the
// same identity never interleave.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}

type Request struct {
	Owner          domain.Owner        `json:"-"`
	Customer       domain.Profile      `json:"-"`
	Address        domain.Address      `json:"address"`
	Payment        domain.PaymentInput `json:"payment"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

func (r *Request) Validate() error {
	v := &domain.ValidationError{}
	if err := r.Owner.Validate(); err != nil {
		v.Add("owner", "identity is required")
	}
	validateAddress(r.Address, v)
	validatePayment(r.Payment, v)
	if len(r.IdempotencyKey) > 255 {
		v.Add("idempotency_key", "must be at most 255 characters")
	}
	return v.Err()
}

type Service struct {
	carts   cartrepo.Store
	cache   cache.CartCache
	orders  OrderStore
	catalog catalog.Lookup
	engine  *pricing.Engine
	locks   Locker
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(
	carts cartrepo.Store,
	cartCache cache.CartCache,
	orders OrderStore,
	lookup catalog.Lookup,
	engine *pricing.Engine,
	locks Locker,
	logger *slog.Logger,
) *Service {
	return &Service{
		carts:   carts,
		cache:   cartCache,
		orders:  orders,
		catalog: lookup,
		engine:  engine,
		locks:   locks,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Checkout turns the owner's cart into a Pending order. The order is
// persisted before the cart is cleared; if persisting fails the cart is left
// exactly as it was. A repeated request with the same idempotency key returns
// the order created by the first one.
func (s *Service) Checkout(ctx context.Context, req *Request) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if existing, err := s.replay(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	unlock, err := s.locks.Lock(ctx, req.Owner.Key())
	if err != nil {
		return nil, domain.Persistence("acquire cart lock", err)
	}
	defer unlock()

	// a request with the same key may have finished while we waited
	if existing, err := s.replay(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	cart, err := s.carts.Load(ctx, req.Owner)
	if errors.Is(err, cartrepo.ErrCartNotFound) {
		return nil, ErrEmptyCart
	}
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	products, err := s.checkStock(ctx, cart)
	if err != nil {
		return nil, err
	}

	order := s.buildOrder(req, cart, products)
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, orderrepo.ErrDuplicateOrder) {
			// lost a race with a concurrent request carrying the same key
			existing, rerr := s.replay(ctx, req)
			if rerr != nil {
				return nil, rerr
			}
			if existing != nil {
				return existing, nil
			}
			return nil, domain.Persistence("create order", err)
		}
		s.logger.ErrorContext(ctx, "persist order failed, cart kept", "owner", req.Owner.Key(), "error", err)
		return nil, err
	}

	s.clearCart(ctx, req.Owner, cart.Version)

	s.logger.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"owner", req.Owner.Key(),
		"items", len(order.Items),
		"total", order.TotalAmount.StringFixed(pricing.Places))
	return order, nil
}

func (s *Service) replay(ctx context.Context, req *Request) (*domain.Order, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	existing, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, orderrepo.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.Owner != req.Owner {
		return nil, domain.Invalid("idempotency_key", "already used by another customer")
	}
	s.logger.InfoContext(ctx, "duplicate checkout request", "idempotency_key", req.IdempotencyKey, "order_id", existing.ID)
	return existing, nil
}

// checkStock re-reads every product. A product that vanished fails the
// checkout with NotFound; a line above current stock fails with StockExceeded.
func (s *Service) checkStock(ctx context.Context, cart *domain.Cart) (map[int64]*domain.Product, error) {
	products := make(map[int64]*domain.Product, len(cart.Lines))
	for _, id := range cart.ProductIDs() {
		p, err := s.catalog.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, l := range cart.Lines {
			if l.ProductID == id && l.Quantity > p.Available {
				return nil, &domain.StockError{ProductID: id, Requested: l.Quantity, Available: p.Available}
			}
		}
		products[id] = p
	}
	return products, nil
}

// buildOrder prices the cart with the offers current at checkout; unit prices
// stay as they were when the lines were added.
func (s *Service) buildOrder(req *Request, cart *domain.Cart, products map[int64]*domain.Product) *domain.Order {
	lines := make([]domain.CartLine, len(cart.Lines))
	for i, l := range cart.Lines {
		if p, ok := products[l.ProductID]; ok {
			l.OfferPercent = p.OfferPercent
		}
		lines[i] = l
	}

	totals := s.engine.Compute(lines)
	items := make([]domain.OrderItem, len(lines))
	for i, l := range lines {
		lp := totals.Lines[i]
		items[i] = domain.OrderItem{
			ProductID:       l.ProductID,
			Name:            l.Name,
			Size:            l.Size,
			Color:           l.Color,
			Category:        l.CategoryName,
			Image:           l.VariantImage,
			UnitPrice:       lp.UnitPrice,
			OfferPercent:    lp.OfferPercent,
			DiscountedPrice: lp.DiscountedPrice,
			Quantity:        l.Quantity,
			LineTotal:       lp.LineTotal,
		}
	}

	now := s.now()
	return &domain.Order{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		Owner:          req.Owner,
		Customer:       req.Customer,
		Items:          items,
		Address:        req.Address,
		Payment:        maskPayment(req.Payment),
		Subtotal:       totals.Subtotal,
		Discount:       totals.TotalDiscount,
		DeliveryCharge: totals.DeliveryCharge,
		TotalAmount:    totals.GrandTotal,
		Status:         domain.OrderStatusPending,
		CartVersion:    cart.Version,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// clearCart removes the checked-out cart. Failure is logged only: the order
// stands, and the order.placed consumer retries the same version-guarded delete.
func (s *Service) clearCart(ctx context.Context, owner domain.Owner, version int64) {
	if err := s.carts.DeleteVersion(ctx, owner, version); err != nil {
		s.logger.WarnContext(ctx, "clear cart after checkout failed", "owner", owner.Key(), "version", version, "error", err)
	}
	if owner.Kind != domain.OwnerUser {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(cctx, owner); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed", "owner", owner.Key(), "error", err)
	}
}
