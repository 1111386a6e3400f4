package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/cache"
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/repository"
	"golang.org/x/sync/singleflight"
)

const cacheOpTimeout = time.Second

// AccountCarts is the remote cart store seen by engines: repository reads go
// through a read-through cache, every write invalidates it. A fill is only
// stored while no write has invalidated the account since the fill began.
type AccountCarts struct {
	repo  repository.CartRepository
	cache cache.CartCache
	log   *slog.Logger
	sfg   singleflight.Group // Prevents cache stampede
}

func NewAccountCarts(repo repository.CartRepository, cache cache.CartCache, log *slog.Logger) *AccountCarts {
	if log == nil {
		log = slog.Default()
	}
	return &AccountCarts{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

func (s *AccountCarts) ReadAll(ctx context.Context, accountID string) ([]domain.CartLine, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(accountID, func() (interface{}, error) {
		lines, err := s.cache.Get(ctx, accountID)
		if err == nil {
			return lines, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get failed, reading repository", "account_id", accountID, "error", err)
		}

		// read before the repository so a write landing during the read
		// keeps its lines out of the cache
		version, errVersion := s.cache.Version(ctx, accountID)

		lines, err = s.repo.ReadAll(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if errVersion != nil {
			s.log.Warn("cache version read failed, skipping fill", "account_id", accountID, "error", errVersion)
			return lines, nil
		}

		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
		defer cancel()
		errSet := s.cache.Set(setCtx, accountID, lines, version)
		switch {
		case errors.Is(errSet, cache.ErrStaleVersion):
			s.log.Debug("cart changed during read, skipping fill", "account_id", accountID)
		case errSet != nil:
			s.log.Warn("cache set failed", "account_id", accountID, "error", errSet)
		}
		return lines, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not share a backing array
	return domain.CloneLines(v.([]domain.CartLine)), nil
}

func (s *AccountCarts) OverwriteAll(ctx context.Context, accountID string, lines []domain.CartLine) error {
	defer s.invalidate(accountID)
	return s.repo.OverwriteAll(ctx, accountID, lines)
}

func (s *AccountCarts) DeleteAll(ctx context.Context, accountID string) error {
	defer s.invalidate(accountID)
	return s.repo.DeleteAll(ctx, accountID)
}

func (s *AccountCarts) UpsertLine(ctx context.Context, accountID string, line domain.CartLine) error {
	defer s.invalidate(accountID)
	return s.repo.UpsertLine(ctx, accountID, line)
}

func (s *AccountCarts) DeleteLines(ctx context.Context, accountID string, productIDs ...int64) error {
	defer s.invalidate(accountID)
	return s.repo.DeleteLines(ctx, accountID, productIDs...)
}

// invalidate runs after failed writes too, a half-applied overwrite must not
// be served from cache
func (s *AccountCarts) invalidate(accountID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, accountID); err != nil {
		s.log.Warn("cache invalidate failed", "account_id", accountID, "error", err)
	}
}
