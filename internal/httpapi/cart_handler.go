package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjod/storefront/internal/cart/service"
	"github.com/fjod/storefront/internal/domain"
)

type CartService interface {
	GetCart(ctx context.Context, owner domain.Owner) (*service.CartView, error)
	AddItem(ctx context.Context, owner domain.Owner, req service.AddItemRequest) (*domain.CartLine, error)
	UpdateQuantity(ctx context.Context, owner domain.Owner, key domain.LineKey, delta int) (*service.UpdateResult, error)
	RemoveItem(ctx context.Context, owner domain.Owner, key domain.LineKey) error
	ClearCart(ctx context.Context, owner domain.Owner) error
	MergeCarts(ctx context.Context, guest, user domain.Owner) (*service.CartView, error)
}

type CartHandler struct {
	carts   CartService
	maxBody int64
	logger  *slog.Logger
}

func NewCartHandler(carts CartService, maxBody int64, logger *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, maxBody: maxBody, logger: logger}
}

type UpdateQuantityRequestDTO struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Delta     int    `json:"delta"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	view, err := h.carts.GetCart(r.Context(), id.Owner)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req service.AddItemRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	line, err := h.carts.AddItem(r.Context(), id.Owner, req)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, line)
}

// PATCH /api/v1/cart/items
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req UpdateQuantityRequestDTO
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	key := domain.LineKey{ProductID: req.ProductID, Size: req.Size, Color: req.Color}
	res, err := h.carts.UpdateQuantity(r.Context(), id.Owner, key, req.Delta)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// DELETE /api/v1/cart/items?product_id=&size=&color=
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	q := r.URL.Query()
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		handleError(w, r, h.logger, domain.Invalid("product_id", "must be a positive integer"))
		return
	}
	key := domain.LineKey{ProductID: productID, Size: q.Get("size"), Color: q.Get("color")}
	if err := h.carts.RemoveItem(r.Context(), id.Owner, key); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if err := h.carts.ClearCart(r.Context(), id.Owner); err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/cart/merge
//
// Folds the anonymous cart named by X-Cart-Session into the signed-in
// user's cart.
func (h *CartHandler) MergeCarts(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if id.Owner.Kind != domain.OwnerUser {
		respondError(w, http.StatusUnauthorized, "unauthorized", "merge requires a signed-in user")
		return
	}
	if id.Session == "" {
		handleError(w, r, h.logger, domain.Invalid("session", HeaderCartSession+" header is required"))
		return
	}
	view, err := h.carts.MergeCarts(r.Context(), domain.Guest(id.Session), id.Owner)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}
