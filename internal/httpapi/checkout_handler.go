package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type CheckoutService interface {
	Checkout(ctx context.Context, req *checkout.Request) (*domain.Order, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	maxBody  int64
	logger   *slog.Logger
}

func NewCheckoutHandler(svc CheckoutService, maxBody int64, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: svc, maxBody: maxBody, logger: logger}
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req checkout.Request
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	req.Owner = id.Owner
	req.Customer = id.Profile
	if req.Customer.FullName == "" {
		req.Customer.FullName = req.Address.FullName
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	}

	order, err := h.checkout.Checkout(r.Context(), &req)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}
