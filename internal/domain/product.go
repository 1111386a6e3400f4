package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrProductNotFound = errors.New("product not found")

// Product is the live catalog view of a product. Currency is empty when the
// catalog holds a code that is not a valid ISO 4217 currency.
type Product struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Currency string
	Stock    int
}

// PricedIn reports whether the product can be sold in the given currency
func (p Product) PricedIn(currency string) bool {
	return p.Price.IsPositive() && p.Currency != "" && strings.EqualFold(p.Currency, currency)
}

// Snapshot captures the product attributes a cart line needs for display and pricing
func (p Product) Snapshot(currency string) Snapshot {
	return Snapshot{
		Name:     p.Name,
		Price:    p.Price,
		Currency: p.Currency,
		Stock:    p.Stock,
		Priced:   p.PricedIn(currency),
	}
}

// Snapshot is the product data carried by a cart line. Priced is false when the
// price could not be resolved, such lines are left out of the subtotal.
type Snapshot struct {
	Name     string          `json:"name,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency,omitempty"`
	Stock    int             `json:"stock"`
	Priced   bool            `json:"priced"`
}
