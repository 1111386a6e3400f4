package repository

import (
	"context"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

// CartRepository defines the interface for per-account cart line storage.
// Lines come back without a product snapshot, callers resolve them.
type CartRepository interface {
	ReadAll(ctx context.Context, accountID string) ([]domain.CartLine, error)
	OverwriteAll(ctx context.Context, accountID string, lines []domain.CartLine) error
	DeleteAll(ctx context.Context, accountID string) error
	UpsertLine(ctx context.Context, accountID string, line domain.CartLine) error
	DeleteLines(ctx context.Context, accountID string, productIDs ...int64) error
}
