package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/order/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	m      sync.RWMutex
	orders map[uuid.UUID]*domain.Order
	writes int
	raceTo domain.OrderStatus // applied once, right before the next SetOrderStatus
}

func newMockRepository(orders ...*domain.Order) *mockRepository {
	m := &mockRepository{orders: make(map[uuid.UUID]*domain.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockRepository) CreateOrder(_ context.Context, o *domain.Order) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *mockRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockRepository) GetOrderByIdempotencyKey(context.Context, string) (*domain.Order, error) {
	return nil, repository.ErrOrderNotFound
}

func (m *mockRepository) ListOrdersByOwner(_ context.Context, owner domain.Owner) ([]*domain.Order, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.Owner == owner {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockRepository) ListOrdersByStatus(_ context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockRepository) SetOrderStatus(_ context.Context, id uuid.UUID, from, to domain.OrderStatus) (*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if m.raceTo != "" {
		o.Status = m.raceTo
		m.raceTo = ""
	}
	if o.Status != from {
		return nil, repository.ErrStatusChanged
	}
	o.Status = to
	m.writes++
	cp := *o
	return &cp, nil
}

func newOrder(status domain.OrderStatus) *domain.Order {
	return &domain.Order{
		ID:          uuid.New(),
		Owner:       domain.User("alice"),
		Status:      status,
		TotalAmount: decimal.RequireFromString("1800.00"),
	}
}

func newSUT(repo *mockRepository) *OrderService {
	return NewOrderService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCompleteOrder_PendingToCompleted(t *testing.T) {
	order := newOrder(domain.OrderStatusPending)
	repo := newMockRepository(order)

	got, err := newSUT(repo).CompleteOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(1800)))
	assert.Equal(t, 1, repo.writes)
}

func TestCompleteOrder_Idempotent(t *testing.T) {
	order := newOrder(domain.OrderStatusCompleted)
	repo := newMockRepository(order)

	got, err := newSUT(repo).CompleteOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)
	assert.Equal(t, 0, repo.writes, "completing a completed order must not write")
}

func TestCancelOrder(t *testing.T) {
	pending := newOrder(domain.OrderStatusPending)
	canceled := newOrder(domain.OrderStatusCanceled)
	repo := newMockRepository(pending, canceled)
	sut := newSUT(repo)

	got, err := sut.CancelOrder(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, got.Status)

	_, err = sut.CancelOrder(context.Background(), canceled.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.writes)
}

func TestTransition_TerminalStatesDoNotCross(t *testing.T) {
	completed := newOrder(domain.OrderStatusCompleted)
	canceled := newOrder(domain.OrderStatusCanceled)
	sut := newSUT(newMockRepository(completed, canceled))

	_, err := sut.CancelOrder(context.Background(), completed.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = sut.CompleteOrder(context.Background(), canceled.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTransition_NotFound(t *testing.T) {
	_, err := newSUT(newMockRepository()).CompleteOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransition_LostRaceToSameStatusIsIdempotent(t *testing.T) {
	order := newOrder(domain.OrderStatusPending)
	repo := newMockRepository(order)
	repo.raceTo = domain.OrderStatusCompleted

	got, err := newSUT(repo).CompleteOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)
}

func TestTransition_LostRaceToOtherTerminal(t *testing.T) {
	order := newOrder(domain.OrderStatusPending)
	repo := newMockRepository(order)
	repo.raceTo = domain.OrderStatusCanceled

	_, err := newSUT(repo).CompleteOrder(context.Background(), order.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetOwnedOrder_HidesOtherOwners(t *testing.T) {
	order := newOrder(domain.OrderStatusPending)
	sut := newSUT(newMockRepository(order))

	_, err := sut.GetOwnedOrder(context.Background(), domain.User("mallory"), order.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := sut.GetOwnedOrder(context.Background(), domain.User("alice"), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
}

func TestListByStatus(t *testing.T) {
	sut := newSUT(newMockRepository(newOrder(domain.OrderStatusPending), newOrder(domain.OrderStatusCompleted)))

	orders, err := sut.ListByStatus(context.Background(), domain.OrderStatusPending)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	_, err = sut.ListByStatus(context.Background(), "SHIPPED")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
