// Package pricing computes cart totals. Everything here is pure: the same
// lines always produce the same totals, and nothing is cached between calls.
package pricing

import (
	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	DefaultFreeDeliveryThreshold = decimal.NewFromInt(500)
	DefaultDeliveryCharge        = decimal.NewFromInt(40)

	hundred = decimal.NewFromInt(100)
)

// Places is the number of fractional digits every amount is rounded to.
const Places = 2

type LinePrice struct {
	Key             domain.LineKey  `json:"key"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	OfferPercent    decimal.Decimal `json:"offer_percent"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	Quantity        int             `json:"quantity"`
	GrossTotal      decimal.Decimal `json:"gross_total"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type Totals struct {
	Lines          []LinePrice     `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TotalDiscount  decimal.Decimal `json:"total_discount"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	PercentSaved   decimal.Decimal `json:"percent_saved"`
}

type Engine struct {
	freeThreshold  decimal.Decimal
	deliveryCharge decimal.Decimal
}

func NewEngine(freeThreshold, deliveryCharge decimal.Decimal) *Engine {
	return &Engine{freeThreshold: freeThreshold, deliveryCharge: deliveryCharge}
}

func NewDefaultEngine() *Engine {
	return NewEngine(DefaultFreeDeliveryThreshold, DefaultDeliveryCharge)
}

// DiscountedUnitPrice applies an offer percentage to a unit price.
func DiscountedUnitPrice(unitPrice, offerPercent decimal.Decimal) decimal.Decimal {
	factor := hundred.Sub(clampPercent(offerPercent)).Div(hundred)
	return unitPrice.Mul(factor).Round(Places)
}

// PriceLine prices a single line.
func PriceLine(l domain.CartLine) LinePrice {
	qty := decimal.NewFromInt(int64(l.Quantity))
	discounted := DiscountedUnitPrice(l.UnitPrice, l.OfferPercent)
	return LinePrice{
		Key:             l.Key(),
		UnitPrice:       l.UnitPrice,
		OfferPercent:    clampPercent(l.OfferPercent),
		DiscountedPrice: discounted,
		Quantity:        l.Quantity,
		GrossTotal:      l.UnitPrice.Mul(qty).Round(Places),
		LineTotal:       discounted.Mul(qty).Round(Places),
	}
}

// Compute prices every line and derives the cart-level totals.
func (e *Engine) Compute(lines []domain.CartLine) Totals {
	t := Totals{
		Lines:          make([]LinePrice, 0, len(lines)),
		Subtotal:       decimal.Zero,
		TotalDiscount:  decimal.Zero,
		DeliveryCharge: decimal.Zero,
		GrandTotal:     decimal.Zero,
		PercentSaved:   decimal.Zero,
	}
	if len(lines) == 0 {
		return t
	}

	net := decimal.Zero
	for _, l := range lines {
		lp := PriceLine(l)
		t.Lines = append(t.Lines, lp)
		t.Subtotal = t.Subtotal.Add(lp.GrossTotal)
		net = net.Add(lp.LineTotal)
	}
	t.TotalDiscount = t.Subtotal.Sub(net)

	if net.LessThan(e.freeThreshold) {
		t.DeliveryCharge = e.deliveryCharge
	}
	t.GrandTotal = net.Add(t.DeliveryCharge)

	if t.Subtotal.IsPositive() {
		t.PercentSaved = t.TotalDiscount.Mul(hundred).Div(t.Subtotal).Round(Places)
	}
	return t
}

// FreeDeliveryShortfall is how much more the customer must spend, after
// discounts, to get free delivery. Zero once the threshold is met.
func (e *Engine) FreeDeliveryShortfall(t Totals) decimal.Decimal {
	net := t.Subtotal.Sub(t.TotalDiscount)
	if t.Subtotal.IsZero() || !net.LessThan(e.freeThreshold) {
		return decimal.Zero
	}
	return e.freeThreshold.Sub(net)
}

func clampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
