package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrderService interface {
	GetOwnedOrder(ctx context.Context, owner domain.Owner, id uuid.UUID) (*domain.Order, error)
	ListByOwner(ctx context.Context, owner domain.Owner) ([]*domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	CompleteOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type OrdersHandler struct {
	orders OrderService
	logger *slog.Logger
}

func NewOrdersHandler(orders OrderService, logger *slog.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, logger: logger}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	orders, err := h.orders.ListByOwner(r.Context(), id.Owner)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

// GET /api/v1/orders/{id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOwnedOrder(r.Context(), id.Owner, orderID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GET /api/v1/admin/orders?status=
func (h *OrdersHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(strings.ToUpper(r.URL.Query().Get("status")))
	orders, err := h.orders.ListByStatus(r.Context(), status)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

// POST /api/v1/admin/orders/{id}/complete
func (h *OrdersHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.CompleteOrder)
}

// POST /api/v1/admin/orders/{id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.CancelOrder)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*domain.Order, error)) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := fn(r.Context(), orderID)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "order status set", "order_id", order.ID, "status", order.Status)
	respondJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, h.logger, domain.Invalid("id", "must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func nonNil(orders []*domain.Order) []*domain.Order {
	if orders == nil {
		return []*domain.Order{}
	}
	return orders
}
