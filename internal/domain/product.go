package domain

import "github.com/shopspring/decimal"

// Product is the catalog's current view of a sellable item.
type Product struct {
	ID           int64
	Name         string
	Category     string
	ImageURL     string
	Price        decimal.Decimal
	OfferPercent decimal.Decimal
	Available    int
}
