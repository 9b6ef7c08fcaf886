package domain

type PaymentKind string

const (
	PaymentCOD  PaymentKind = "COD"
	PaymentUPI  PaymentKind = "UPI"
	PaymentCard PaymentKind = "CARD"
)

// PaymentInput is what the customer submits at checkout.
type PaymentInput struct {
	Kind       PaymentKind `json:"kind"`
	UPIID      string      `json:"upi_id,omitempty"`
	CardNumber string      `json:"card_number,omitempty"`
	CardExpiry string      `json:"card_expiry,omitempty"`
	CardCVC    string      `json:"card_cvc,omitempty"`
	CardHolder string      `json:"card_holder,omitempty"`
}

// PaymentMethod is the descriptor stored on an order. Card secrets are
// reduced to the last four digits; the CVC is never kept.
type PaymentMethod struct {
	Kind       PaymentKind `json:"kind"`
	UPIID      string      `json:"upi_id,omitempty"`
	CardLast4  string      `json:"card_last4,omitempty"`
	CardExpiry string      `json:"card_expiry,omitempty"`
	CardHolder string      `json:"card_holder,omitempty"`
}
