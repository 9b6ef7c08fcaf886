package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/order/repository"
	"github.com/google/uuid"
)

// OrderService owns the order lifecycle after checkout. Financial fields are
// never written here; only status moves.
type OrderService struct {
	repo   repository.OrderRepository
	logger *slog.Logger
}

func NewOrderService(repo repository.OrderRepository, logger *slog.Logger) *OrderService {
	return &OrderService{repo: repo, logger: logger}
}

func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// GetOwnedOrder returns the order only if it belongs to owner. Orders of other
// identities are reported as not found.
func (s *OrderService) GetOwnedOrder(ctx context.Context, owner domain.Owner, id uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Owner != owner {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListByOwner(ctx context.Context, owner domain.Owner) ([]*domain.Order, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListOrdersByOwner(ctx, owner)
}

func (s *OrderService) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	if !status.Valid() {
		return nil, domain.Invalid("status", fmt.Sprintf("unknown order status %q", status))
	}
	return s.repo.ListOrdersByStatus(ctx, status)
}

// CompleteOrder marks a pending order completed. Completing a completed order
// succeeds without writing.
func (s *OrderService) CompleteOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.transition(ctx, id, domain.OrderStatusCompleted)
}

// CancelOrder marks a pending order canceled. Canceling a canceled order
// succeeds without writing.
func (s *OrderService) CancelOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.transition(ctx, id, domain.OrderStatusCanceled)
}

func (s *OrderService) transition(ctx context.Context, id uuid.UUID, to domain.OrderStatus) (*domain.Order, error) {
	// a lost race re-reads once; the second read sees the winner's status
	for attempt := 0; attempt < 2; attempt++ {
		order, err := s.repo.GetOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if order.Status == to {
			return order, nil
		}
		if !domain.CanTransitionTo(order.Status, to) {
			return nil, domain.Invalid("status", fmt.Sprintf("cannot move order from %s to %s", order.Status, to))
		}

		updated, err := s.repo.SetOrderStatus(ctx, id, order.Status, to)
		if errors.Is(err, repository.ErrStatusChanged) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "order status changed", "order_id", id, "from", order.Status, "to", to)
		return updated, nil
	}
	return nil, domain.Persistence("update order status", repository.ErrStatusChanged)
}
