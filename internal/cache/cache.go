package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

// CartCache caches the stored lines of an account cart. An empty cart is a
// valid entry and is distinct from a miss.
//
// Every Delete bumps the version of the account. A fill reads Version before
// it reads the repository and passes it to Set, which stores nothing once a
// write has invalidated the cart in between.
type CartCache interface {
	Get(ctx context.Context, accountID string) ([]domain.CartLine, error)
	Version(ctx context.Context, accountID string) (int64, error)
	Set(ctx context.Context, accountID string, lines []domain.CartLine, version int64) error
	Delete(ctx context.Context, accountID string) error
}

var (
	ErrCacheMiss    = errors.New("cache miss")
	ErrStaleVersion = errors.New("cart invalidated since version was read")
)
