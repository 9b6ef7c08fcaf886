package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventOrderPlaced = "order.placed"

// OrderPlacedEvent is written to the outbox in the same transaction as the
// order. CartVersion is the cart version the order was built from.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	Owner       Owner           `json:"owner"`
	CartVersion int64           `json:"cart_version"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
	PlacedAt    time.Time       `json:"placed_at"`
}

func NewOrderPlacedEvent(o *Order) OrderPlacedEvent {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return OrderPlacedEvent{
		OrderID:     o.ID,
		Owner:       o.Owner,
		CartVersion: o.CartVersion,
		TotalAmount: o.TotalAmount,
		ItemCount:   n,
		PlacedAt:    o.CreatedAt,
	}
}
