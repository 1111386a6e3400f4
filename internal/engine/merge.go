package engine

import (
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

// mergeLines folds anonymous lines into resolved account lines. Matching
// products are summed, every quantity is capped at live stock, and lines that
// cannot be bought are dropped. The result is deterministic: account order
// first, then new anonymous products in the order they were added. The bool
// reports whether any quantity was capped or any line dropped.
func mergeLines(account, anonymous []domain.CartLine, products map[int64]domain.Product, currency string, now time.Time) ([]domain.CartLine, bool) {
	adjusted := false
	merged := make([]domain.CartLine, 0, len(account)+len(anonymous))

	for _, l := range account {
		if l.Snapshot.Stock <= 0 {
			adjusted = true
			continue
		}
		if l.Quantity > l.Snapshot.Stock {
			l.Quantity = l.Snapshot.Stock
			adjusted = true
		}
		merged = append(merged, l)
	}

	for _, l := range anonymous {
		if l.Quantity <= 0 {
			continue
		}
		p, found := products[l.ProductID]

		if i := domain.IndexOf(merged, l.ProductID); i >= 0 {
			want := merged[i].Quantity + l.Quantity
			merged[i].Quantity = min(want, p.Stock)
			merged[i].AddedAt = now
			if merged[i].Quantity < want {
				adjusted = true
			}
			continue
		}

		if !found || !p.PricedIn(currency) || p.Stock <= 0 {
			adjusted = true
			continue
		}
		qty := min(l.Quantity, p.Stock)
		if qty < l.Quantity {
			adjusted = true
		}
		merged = append(merged, domain.CartLine{
			ProductID: l.ProductID,
			Quantity:  qty,
			AddedAt:   now,
			Snapshot:  p.Snapshot(currency),
		})
	}
	return merged, adjusted
}

// capToStock enforces quantity <= stock on every line and drops lines
// whose stock is gone
func capToStock(lines []domain.CartLine) []domain.CartLine {
	out := lines[:0]
	for _, l := range lines {
		if l.Snapshot.Stock <= 0 || l.Quantity <= 0 {
			continue
		}
		if l.Quantity > l.Snapshot.Stock {
			l.Quantity = l.Snapshot.Stock
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
