package engine

import (
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/shopspring/decimal"
)

type Totals struct {
	TotalItems int
	Subtotal   decimal.Decimal
	Currency   string
}

// ComputeTotals sums quantities over all lines and prices over priced lines
// only. A line with an unresolved price adds nothing to the subtotal.
func ComputeTotals(lines []domain.CartLine, currency string) Totals {
	t := Totals{Subtotal: decimal.Zero, Currency: currency}
	for _, l := range lines {
		t.TotalItems += l.Quantity
		if !l.Snapshot.Priced {
			continue
		}
		t.Subtotal = t.Subtotal.Add(l.Snapshot.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return t
}

func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ComputeTotals(e.state.Items, e.currency)
}

// Currency is the store currency prices are totalled in
func (e *Engine) Currency() string {
	return e.currency
}
