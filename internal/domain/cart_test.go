package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAnonymousCart_Expired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := AnonymousCart{LastUpdated: now.Add(-6 * 24 * time.Hour).UnixMilli()}
	stale := AnonymousCart{LastUpdated: now.Add(-8 * 24 * time.Hour).UnixMilli()}

	assert.False(t, fresh.Expired(now))
	assert.True(t, stale.Expired(now))
}

func TestCartLine_Expired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.False(t, CartLine{AddedAt: now.Add(-29 * 24 * time.Hour)}.Expired(now))
	assert.True(t, CartLine{AddedAt: now.Add(-31 * 24 * time.Hour)}.Expired(now))
}

func TestProduct_PricedIn(t *testing.T) {
	p := Product{ID: 1, Price: decimal.RequireFromString("9.99"), Currency: "USD", Stock: 3}
	assert.True(t, p.PricedIn("USD"))
	assert.True(t, p.PricedIn("usd"))
	assert.False(t, p.PricedIn("EUR"))

	p.Price = decimal.Zero
	assert.False(t, p.PricedIn("USD"))

	p.Price = decimal.RequireFromString("1")
	p.Currency = ""
	assert.False(t, p.PricedIn("USD"))
}

func TestIdentity_SameBacking(t *testing.T) {
	assert.True(t, NoIdentity().SameBacking(Anonymous()))
	assert.True(t, Account("1").SameBacking(Account("1")))
	assert.False(t, Account("1").SameBacking(Account("2")))
	assert.False(t, Anonymous().SameBacking(Account("1")))
}
