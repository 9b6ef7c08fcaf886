package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCanceled is only ever set by an explicit administrative cancel.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCanceled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether from -> to is an allowed lifecycle step.
// Re-entering the current terminal state is allowed and is a no-op.
func CanTransitionTo(from, to OrderStatus) bool {
	if from == to {
		return to.IsTerminal()
	}
	return from == OrderStatusPending && to.IsTerminal()
}

// OrderItem is a priced copy of a cart line; it never references the live product.
type OrderItem struct {
	ProductID       int64           `json:"product_id"`
	Name            string          `json:"name"`
	Size            string          `json:"size,omitempty"`
	Color           string          `json:"color,omitempty"`
	Category        string          `json:"category"`
	Image           string          `json:"image,omitempty"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	OfferPercent    decimal.Decimal `json:"offer_percent"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	Quantity        int             `json:"quantity"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone"`
}

type Order struct {
	ID             uuid.UUID       `json:"id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Owner          Owner           `json:"owner"`
	Customer       Profile         `json:"customer"`
	Items          []OrderItem     `json:"items"`
	Address        Address         `json:"address"`
	Payment        PaymentMethod   `json:"payment"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	CartVersion    int64           `json:"cart_version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
