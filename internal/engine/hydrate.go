package engine

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

// hydrate loads the cart for id and applies it unless a newer identity
// change has superseded generation gen.
func (e *Engine) hydrate(ctx context.Context, gen uint64, id domain.Identity) {
	var (
		items    []domain.CartLine
		adjusted bool
		err      error
	)
	if id.IsAccount() {
		items, adjusted, err = e.hydrateAccount(ctx, id.AccountID)
	} else {
		items, err = e.hydrateAnonymous(ctx)
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		e.log.Debug("discarding superseded hydration", "identity", id.String())
		return
	}
	e.state.Hydrating = false
	var events []Event
	if err != nil {
		e.state.Items = nil
		e.state.Warning = err
		events = append(events, Event{Type: EventHydrationFailed, Identity: id, Err: err})
	} else {
		e.state.Items = items
		e.state.Warning = nil
		events = append(events, Event{Type: EventHydrated, Identity: id})
		if adjusted {
			events = append(events, Event{Type: EventMergeAdjusted, Identity: id})
		}
	}
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("cart hydration failed, serving empty cart", "identity", id.String(), "error", err)
	}
	e.emit(events...)
}

func (e *Engine) hydrateAnonymous(ctx context.Context) ([]domain.CartLine, error) {
	cart, err := e.local.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read anonymous cart: %w", ErrStoreUnavailable, err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, nil
	}
	if cart.Expired(e.now()) {
		if errClear := e.local.Clear(ctx); errClear != nil {
			e.log.Warn("failed to clear expired anonymous cart", "error", errClear)
		}
		return nil, nil
	}

	items := domain.CloneLines(cart.Items)
	products, err := e.resolveMany(ctx, productIDs(items))
	if err != nil {
		// keep the stored snapshot, commands revalidate before they change anything
		e.log.Debug("anonymous cart revalidation skipped", "error", err)
		return capToStock(items), nil
	}
	for i := range items {
		p, ok := products[items[i].ProductID]
		if !ok {
			items[i].Snapshot.Priced = false
			continue
		}
		items[i].Snapshot = p.Snapshot(e.currency)
	}
	return capToStock(items), nil
}

// hydrateAccount runs the sign-in merge. The anonymous cart is read before
// any remote state and is cleared only after the remote overwrite succeeded.
func (e *Engine) hydrateAccount(ctx context.Context, accountID string) ([]domain.CartLine, bool, error) {
	anon, err := e.local.Read(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: read anonymous cart: %w", ErrStoreUnavailable, err)
	}
	now := e.now()
	var pending []domain.CartLine
	if anon != nil {
		if anon.Expired(now) {
			if errClear := e.local.Clear(ctx); errClear != nil {
				e.log.Warn("failed to clear expired anonymous cart", "error", errClear)
			}
		} else {
			pending = anon.Items
		}
	}

	records, err := e.remote.ReadAll(ctx, accountID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: read account cart: %w", ErrStoreUnavailable, err)
	}

	var (
		live  []domain.CartLine
		stale []int64
	)
	for _, r := range records {
		if r.Expired(now) {
			stale = append(stale, r.ProductID)
			continue
		}
		live = append(live, r)
	}

	products, err := e.resolveMany(ctx, productIDs(live, pending))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrLookupUnavailable, err)
	}

	resolved := make([]domain.CartLine, 0, len(live))
	for _, r := range live {
		p, ok := products[r.ProductID]
		if !ok {
			stale = append(stale, r.ProductID)
			continue
		}
		r.Snapshot = p.Snapshot(e.currency)
		resolved = append(resolved, r)
	}

	if len(pending) == 0 {
		if len(stale) > 0 {
			e.scheduleLineDeletion(accountID, stale)
		}
		return capToStock(resolved), false, nil
	}

	merged, adjusted := mergeLines(resolved, pending, products, e.currency, now)
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	// Once started, the overwrite and the local clear run to completion. The
	// overwrite deletes before it inserts, so cancelling it midway would wipe
	// the account cart. A superseded result is dropped by the generation check.
	if err := e.detached(ctx, func(ctx context.Context) error {
		return e.remote.OverwriteAll(ctx, accountID, merged)
	}); err != nil {
		return nil, false, fmt.Errorf("%w: overwrite account cart: %w", ErrStoreUnavailable, err)
	}
	if err := e.detached(ctx, e.local.Clear); err != nil {
		e.log.Error("failed to clear merged anonymous cart", "account_id", accountID, "error", err)
	}
	return merged, adjusted, nil
}

// detached runs fn on a context that ignores cancellation of ctx and is
// bounded by the persist timeout
func (e *Engine) detached(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.persistTimeout)
	defer cancel()
	return fn(ctx)
}

func (e *Engine) scheduleLineDeletion(accountID string, ids []int64) {
	e.queue.push(job{
		name: "delete stale lines",
		run: func(ctx context.Context) error {
			return e.remote.DeleteLines(ctx, accountID, ids...)
		},
		finish: func(err error) {
			if err != nil {
				e.log.Warn("failed to delete stale cart lines", "account_id", accountID, "error", err)
			}
		},
	})
}

func (e *Engine) resolveMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	if len(ids) == 0 {
		return map[int64]domain.Product{}, nil
	}
	return e.products.ResolveMany(ctx, ids)
}

func productIDs(groups ...[]domain.CartLine) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, lines := range groups {
		for _, l := range lines {
			if _, ok := seen[l.ProductID]; ok {
				continue
			}
			seen[l.ProductID] = struct{}{}
			ids = append(ids, l.ProductID)
		}
	}
	return ids
}
