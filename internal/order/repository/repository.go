package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound = fmt.Errorf("order %w", domain.ErrNotFound)
	// ErrDuplicateOrder means an order with the same idempotency key exists.
	ErrDuplicateOrder = errors.New("order for this idempotency key already exists")
	// ErrStatusChanged means the order left the expected status before the update ran.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	MigrationsDirPath string
}

// OutboxEvent is a domain event waiting to be published.
type OutboxEvent struct {
	ID          int64
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type OrderRepository interface {
	// CreateOrder stores the order and its order.placed outbox event atomically.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	ListOrdersByOwner(ctx context.Context, owner domain.Owner) ([]*domain.Order, error)
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	// SetOrderStatus moves an order from one status to another and fails with
	// ErrStatusChanged if it is no longer in from.
	SetOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) (*domain.Order, error)
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
