package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	cartrepo "github.com/fjod/storefront/internal/cart/repository"
	cartservice "github.com/fjod/storefront/internal/cart/service"
	"github.com/fjod/storefront/internal/domain"
	orderrepo "github.com/fjod/storefront/internal/order/repository"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCarts struct {
	m         sync.RWMutex
	carts     map[string]*domain.Cart
	deleteErr error
}

func (m *mockCarts) Load(_ context.Context, owner domain.Owner) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	c, ok := m.carts[owner.Key()]
	if !ok {
		return nil, cartrepo.ErrCartNotFound
	}
	return c.Clone(), nil
}

func (m *mockCarts) Save(_ context.Context, c *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	c.Version++
	m.carts[c.Owner.Key()] = c.Clone()
	return nil
}

func (m *mockCarts) Delete(_ context.Context, owner domain.Owner) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, owner.Key())
	return nil
}

func (m *mockCarts) DeleteVersion(_ context.Context, owner domain.Owner, version int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	c, ok := m.carts[owner.Key()]
	if !ok {
		return nil
	}
	if c.Version != version {
		return cartrepo.ErrVersionConflict
	}
	delete(m.carts, owner.Key())
	return nil
}

func (m *mockCarts) get(owner domain.Owner) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[owner.Key()]
}

type mockOrders struct {
	m         sync.RWMutex
	orders    []*domain.Order
	createErr error
}

func (m *mockOrders) CreateOrder(_ context.Context, o *domain.Order) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.orders {
		if o.IdempotencyKey != "" && existing.IdempotencyKey == o.IdempotencyKey {
			return orderrepo.ErrDuplicateOrder
		}
	}
	m.orders = append(m.orders, o)
	return nil
}

func (m *mockOrders) GetOrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	for _, o := range m.orders {
		if o.IdempotencyKey == key {
			return o, nil
		}
	}
	return nil, orderrepo.ErrOrderNotFound
}

func (m *mockOrders) count() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return len(m.orders)
}

type mockCatalog struct {
	products map[int64]*domain.Product
}

func (m *mockCatalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

type mockCache struct {
	deleted []domain.Owner
}

func (m *mockCache) Get(context.Context, domain.Owner) (*domain.Cart, error) {
	return nil, errors.New("not used")
}

func (m *mockCache) Set(context.Context, *domain.Cart) error { return nil }

func (m *mockCache) Delete(_ context.Context, owner domain.Owner) error {
	m.deleted = append(m.deleted, owner)
	return nil
}

type fixture struct {
	carts  *mockCarts
	orders *mockOrders
	cache  *mockCache
	sut    *Service
}

func newFixture(products ...*domain.Product) *fixture {
	cat := &mockCatalog{products: make(map[int64]*domain.Product)}
	for _, p := range products {
		cat.products[p.ID] = p
	}
	f := &fixture{
		carts:  &mockCarts{carts: make(map[string]*domain.Cart)},
		orders: &mockOrders{},
		cache:  &mockCache{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.sut = NewService(f.carts, f.cache, f.orders, cat, pricing.NewDefaultEngine(), cartservice.NewKeyedMutex(), logger)
	return f
}

func (f *fixture) seed(owner domain.Owner, lines ...domain.CartLine) *domain.Cart {
	c := domain.NewCart(owner)
	c.Lines = lines
	c.Version = 3
	f.carts.carts[owner.Key()] = c
	return c
}

func line(productID int64, price string, offer int64, qty int) domain.CartLine {
	return domain.CartLine{
		ProductID:    productID,
		Name:         fmt.Sprintf("product-%d", productID),
		CategoryName: "apparel",
		UnitPrice:    decimal.RequireFromString(price),
		OfferPercent: decimal.NewFromInt(offer),
		Quantity:     qty,
		Available:    10,
	}
}

func stock(id int64, n int) *domain.Product {
	return offered(id, n, 0)
}

func offered(id int64, n int, offer int64) *domain.Product {
	return &domain.Product{
		ID:           id,
		Name:         fmt.Sprintf("product-%d", id),
		Price:        decimal.NewFromInt(1),
		OfferPercent: decimal.NewFromInt(offer),
		Available:    n,
	}
}

var alice = domain.User("alice")

func request(owner domain.Owner) *Request {
	return &Request{
		Owner:    owner,
		Customer: domain.Profile{FullName: "Alice Doe", Email: "alice@example.com"},
		Address:  validAddress(),
		Payment:  domain.PaymentInput{Kind: domain.PaymentCOD},
	}
}

// Scenario E: a one-line checkout yields one pending order and an empty cart.
func TestCheckout_Success(t *testing.T) {
	f := newFixture(offered(1, 5, 10))
	f.seed(alice, line(1, "1000", 10, 2))

	order, err := f.sut.Checkout(context.Background(), request(alice))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, alice, order.Owner)
	assert.Equal(t, "Alice Doe", order.Customer.FullName)
	assert.Equal(t, int64(3), order.CartVersion)
	assert.Equal(t, "2000", order.Subtotal.String())
	assert.Equal(t, "200", order.Discount.String())
	assert.True(t, order.DeliveryCharge.IsZero())
	assert.Equal(t, "1800", order.TotalAmount.String())
	require.Len(t, order.Items, 1)
	assert.Equal(t, "900", order.Items[0].DiscountedPrice.String())
	assert.Equal(t, "1800", order.Items[0].LineTotal.String())
	assert.Equal(t, "apparel", order.Items[0].Category)

	assert.Equal(t, 1, f.orders.count())
	assert.Nil(t, f.carts.get(alice), "cart must be empty after checkout")
	assert.Equal(t, []domain.Owner{alice}, f.cache.deleted)
}

func TestCheckout_DeliveryChargeBelowThreshold(t *testing.T) {
	guest := domain.Guest("sess-1")
	f := newFixture(stock(1, 5))
	f.seed(guest, line(1, "100", 0, 2))

	order, err := f.sut.Checkout(context.Background(), request(guest))
	require.NoError(t, err)
	assert.Equal(t, "40", order.DeliveryCharge.String())
	assert.Equal(t, "240", order.TotalAmount.String())
	assert.Empty(t, f.cache.deleted, "guest carts are not cached")
}

// Scenario D: an empty cart is rejected and no order is created.
func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture()

	order, err := f.sut.Checkout(context.Background(), request(alice))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Nil(t, order)
	assert.Equal(t, 0, f.orders.count())

	f.seed(alice)
	_, err = f.sut.Checkout(context.Background(), request(alice))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, f.orders.count())
}

func TestCheckout_InvalidFieldsHaveNoSideEffects(t *testing.T) {
	f := newFixture(stock(1, 5))
	f.seed(alice, line(1, "100", 0, 1))

	req := request(alice)
	req.Address.PostalCode = "12"
	req.Payment = domain.PaymentInput{Kind: domain.PaymentCard, CardNumber: "1234", CardExpiry: "13/20", CardCVC: "1"}

	_, err := f.sut.Checkout(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrValidation)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 4)

	assert.NotNil(t, f.carts.get(alice))
	assert.Equal(t, 0, f.orders.count())
}

func TestCheckout_PersistenceFailureKeepsCart(t *testing.T) {
	f := newFixture(stock(1, 5))
	seeded := f.seed(alice, line(1, "100", 0, 2))
	f.orders.createErr = domain.Persistence("insert order", errors.New("connection reset"))

	_, err := f.sut.Checkout(context.Background(), request(alice))
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.ErrPersistence, domain.Kind(err))

	kept := f.carts.get(alice)
	require.NotNil(t, kept)
	assert.Equal(t, seeded.Version, kept.Version)
	assert.Equal(t, 2, kept.Lines[0].Quantity)
}

func TestCheckout_ClearFailureKeepsOrder(t *testing.T) {
	f := newFixture(stock(1, 5))
	f.seed(alice, line(1, "100", 0, 2))
	f.carts.deleteErr = domain.Persistence("delete", errors.New("timeout"))

	order, err := f.sut.Checkout(context.Background(), request(alice))
	require.NoError(t, err)
	assert.NotNil(t, order)
	assert.Equal(t, 1, f.orders.count())
}

func TestCheckout_StockDroppedSinceAdd(t *testing.T) {
	f := newFixture(stock(1, 1))
	f.seed(alice, line(1, "100", 0, 2))

	_, err := f.sut.Checkout(context.Background(), request(alice))
	assert.ErrorIs(t, err, domain.ErrStockExceeded)
	assert.Equal(t, 0, f.orders.count())
	assert.NotNil(t, f.carts.get(alice))
}

func TestCheckout_VanishedProduct(t *testing.T) {
	f := newFixture(stock(1, 5))
	f.seed(alice, line(1, "100", 0, 1), line(2, "50", 0, 1))

	_, err := f.sut.Checkout(context.Background(), request(alice))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, f.orders.count())
}

func TestCheckout_IdempotencyKeyReturnsSameOrder(t *testing.T) {
	f := newFixture(stock(1, 5))
	f.seed(alice, line(1, "100", 0, 2))

	req := request(alice)
	req.IdempotencyKey = "req-42"
	first, err := f.sut.Checkout(context.Background(), req)
	require.NoError(t, err)

	// the cart is gone now; a replay must still answer with the first order
	second, err := f.sut.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.orders.count())
}

func TestCheckout_IdempotencyKeyOfAnotherOwner(t *testing.T) {
	f := newFixture(stock(1, 5))
	f.seed(alice, line(1, "100", 0, 2))
	req := request(alice)
	req.IdempotencyKey = "shared"
	_, err := f.sut.Checkout(context.Background(), req)
	require.NoError(t, err)

	bob := domain.User("bob")
	f.seed(bob, line(1, "100", 0, 1))
	other := request(bob)
	other.IdempotencyKey = "shared"
	_, err = f.sut.Checkout(context.Background(), other)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotNil(t, f.carts.get(bob))
}

func TestCheckout_StoresMaskedCard(t *testing.T) {
	f := newFixture(stock(1, 5))
	f.seed(alice, line(1, "100", 0, 1))
	req := request(alice)
	req.Payment = domain.PaymentInput{Kind: domain.PaymentCard, CardNumber: "4111-1111-1111-9876", CardExpiry: "01/30", CardCVC: "321"}

	order, err := f.sut.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "9876", order.Payment.CardLast4)
	assert.Equal(t, "01/30", order.Payment.CardExpiry)
}

func TestCheckout_GrandTotalIdentity(t *testing.T) {
	f := newFixture(offered(1, 50, 15), offered(2, 50, 33), stock(3, 50))
	f.seed(alice, line(1, "99.99", 15, 3), line(2, "249.50", 33, 1), line(3, "10.01", 0, 7))

	order, err := f.sut.Checkout(context.Background(), request(alice))
	require.NoError(t, err)
	want := order.Subtotal.Sub(order.Discount).Add(order.DeliveryCharge)
	assert.True(t, want.Equal(order.TotalAmount), "got %s want %s", order.TotalAmount, want)

	sum := decimal.Zero
	for _, it := range order.Items {
		sum = sum.Add(it.LineTotal)
	}
	assert.True(t, sum.Add(order.DeliveryCharge).Equal(order.TotalAmount))
}

func TestCheckout_PricesWithCurrentOffer(t *testing.T) {
	f := newFixture(offered(1, 5, 50))
	f.seed(alice, line(1, "1000", 0, 1))

	order, err := f.sut.Checkout(context.Background(), request(alice))
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "1000", order.Items[0].UnitPrice.String(), "unit price is the add-time snapshot")
	assert.Equal(t, "50", order.Items[0].OfferPercent.String())
	assert.Equal(t, "500", order.Items[0].DiscountedPrice.String())
	assert.Equal(t, "500", order.Discount.String())
	assert.Equal(t, "500", order.TotalAmount.String())
}

// racingOrders holds the first two idempotency lookups until both have
// arrived, so two requests miss the pre-lock replay together.
type racingOrders struct {
	*mockOrders
	calls   atomic.Int32
	arrived sync.WaitGroup
}

func (r *racingOrders) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	if r.calls.Add(1) <= 2 {
		r.arrived.Done()
		r.arrived.Wait()
	}
	return r.mockOrders.GetOrderByIdempotencyKey(ctx, key)
}

func TestCheckout_ConcurrentSameKeyReturnsOneOrder(t *testing.T) {
	f := newFixture(stock(1, 5))
	f.seed(alice, line(1, "100", 0, 2))
	orders := &racingOrders{mockOrders: f.orders}
	orders.arrived.Add(2)
	f.sut.orders = orders

	var wg sync.WaitGroup
	results := make([]*domain.Order, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request(alice)
			req.IdempotencyKey = "double-click"
			results[i], errs[i] = f.sut.Checkout(context.Background(), req)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)
	assert.Equal(t, 1, f.orders.count())
	assert.Nil(t, f.carts.get(alice))
}

// hidingOrders reports the first lookups as misses, as if the other order
// were committed only after this request checked.
type hidingOrders struct {
	*mockOrders
	hide atomic.Int32
}

func (h *hidingOrders) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	if h.hide.Add(-1) >= 0 {
		return nil, orderrepo.ErrOrderNotFound
	}
	return h.mockOrders.GetOrderByIdempotencyKey(ctx, key)
}

func TestCheckout_DuplicateKeyRaceChecksOwner(t *testing.T) {
	f := newFixture(stock(1, 5))
	f.orders.orders = append(f.orders.orders, &domain.Order{
		ID:             uuid.New(),
		IdempotencyKey: "shared",
		Owner:          domain.User("bob"),
		Status:         domain.OrderStatusPending,
	})
	f.seed(alice, line(1, "100", 0, 1))
	orders := &hidingOrders{mockOrders: f.orders}
	orders.hide.Store(2)
	f.sut.orders = orders

	req := request(alice)
	req.IdempotencyKey = "shared"
	order, err := f.sut.Checkout(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Nil(t, order)
	assert.NotNil(t, f.carts.get(alice), "cart is kept")
}
