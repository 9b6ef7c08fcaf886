package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LineKey is a cart line's identity: the same product in another size or
// color is a different line.
type LineKey struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

func (k LineKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.ProductID, k.Size, k.Color)
}

type CartLine struct {
	ProductID    int64           `json:"product_id"`
	Size         string          `json:"size,omitempty"`
	Color        string          `json:"color,omitempty"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	OfferPercent decimal.Decimal `json:"offer_percent"`
	Quantity     int             `json:"quantity"`
	VariantImage string          `json:"variant_image,omitempty"`
	CategoryName string          `json:"category_name"`
	Available    int             `json:"available"`
	AddedAt      time.Time       `json:"added_at"`
}

func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Size: l.Size, Color: l.Color}
}

// Refresh copies current catalog data onto the line.
func (l *CartLine) Refresh(p Product) {
	l.Name = p.Name
	l.UnitPrice = p.Price
	l.OfferPercent = p.OfferPercent
	l.CategoryName = p.Category
	l.Available = p.Available
	if l.VariantImage == "" {
		l.VariantImage = p.ImageURL
	}
}

type Cart struct {
	Owner     Owner      `json:"owner"`
	Lines     []CartLine `json:"lines"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func NewCart(owner Owner) *Cart {
	now := time.Now().UTC()
	return &Cart{Owner: owner, CreatedAt: now, UpdatedAt: now}
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// Find returns the index of the line with key k, or -1.
func (c *Cart) Find(k LineKey) int {
	for i := range c.Lines {
		if c.Lines[i].Key() == k {
			return i
		}
	}
	return -1
}

// Remove drops the line with key k and reports whether it was present.
func (c *Cart) Remove(k LineKey) bool {
	i := c.Find(k)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

// Clone returns a deep copy safe to mutate.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Lines = make([]CartLine, len(c.Lines))
	copy(out.Lines, c.Lines)
	return &out
}

// ProductIDs lists distinct product ids in ascending order.
func (c *Cart) ProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(c.Lines))
	ids := make([]int64, 0, len(c.Lines))
	for _, l := range c.Lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
