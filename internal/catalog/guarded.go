package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fjod/go_cart/cart-engine/internal/circuitbreaker"
	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

// Lookup is the product lookup guarded by GuardedLookup
type Lookup interface {
	Resolve(ctx context.Context, productID int64) (domain.Product, error)
	ResolveMany(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)
}

// GuardedLookup fails fast with circuitbreaker.ErrOpen while the catalog is
// failing. Unknown products are answers, not failures.
type GuardedLookup struct {
	next   Lookup
	single *circuitbreaker.Breaker[domain.Product]
	many   *circuitbreaker.Breaker[map[int64]domain.Product]
}

func NewGuardedLookup(next Lookup, opts circuitbreaker.Options, log *slog.Logger) *GuardedLookup {
	// a caller giving up says nothing about the catalog
	opts.Ignore = func(err error) bool {
		return errors.Is(err, ErrProductNotFound) || errors.Is(err, context.Canceled)
	}
	return &GuardedLookup{
		next:   next,
		single: circuitbreaker.New[domain.Product]("catalog.resolve", opts, log),
		many:   circuitbreaker.New[map[int64]domain.Product]("catalog.resolve_many", opts, log),
	}
}

func (g *GuardedLookup) Resolve(ctx context.Context, productID int64) (domain.Product, error) {
	return g.single.Execute(func() (domain.Product, error) {
		return g.next.Resolve(ctx, productID)
	})
}

func (g *GuardedLookup) ResolveMany(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	return g.many.Execute(func() (map[int64]domain.Product, error) {
		return g.next.ResolveMany(ctx, productIDs)
	})
}

// Check reports ErrOpen while either breaker rejects calls
func (g *GuardedLookup) Check(context.Context) error {
	if g.single.State() == "open" || g.many.State() == "open" {
		return circuitbreaker.ErrOpen
	}
	return nil
}
