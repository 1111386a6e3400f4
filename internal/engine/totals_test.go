package engine

import (
	"context"
	"testing"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTotals_SkipsUnpricedLines(t *testing.T) {
	priced := resolvedLine(product(productA, "19.99", 10), 3, testNow)
	unpriced := line(productB, 2, testNow)
	unpriced.Snapshot = domain.Snapshot{Name: "gone", Stock: 2}

	totals := ComputeTotals([]domain.CartLine{priced, unpriced}, "USD")

	assert.Equal(t, 5, totals.TotalItems)
	assert.True(t, decimal.RequireFromString("59.97").Equal(totals.Subtotal), "got %s", totals.Subtotal)
	assert.Equal(t, "USD", totals.Currency)
}

func TestComputeTotals_Empty(t *testing.T) {
	totals := ComputeTotals(nil, "EUR")
	assert.Zero(t, totals.TotalItems)
	assert.True(t, totals.Subtotal.IsZero())
}

func TestEngineTotals(t *testing.T) {
	products := newMockProducts(product(productA, "0.10", 10), product(productB, "0.20", 10))
	e := newTestEngine(t, &mockLocal{}, newMockRemote(), products)
	waitHydrated(t, e)

	_, err := e.Add(context.Background(), productA, 1)
	require.NoError(t, err)
	_, err = e.Add(context.Background(), productB, 1)
	require.NoError(t, err)

	totals := e.Totals()
	assert.Equal(t, 2, totals.TotalItems)
	assert.Equal(t, "0.3", totals.Subtotal.String())
}
