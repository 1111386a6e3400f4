package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

// Pending tracks the persistence of a command whose state change has
// already been applied.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) finish(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the store write has finished
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the store write finished or ctx is done. A store
// failure is reported as ErrStoreUnavailable, the state keeps the change.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add puts qty units of a product into the cart
func (e *Engine) Add(ctx context.Context, productID int64, qty int) (*Pending, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	product, err := e.resolve(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.PricedIn(e.currency) {
		return nil, ErrProductUnavailable
	}

	if err := e.lockHydrated(ctx); err != nil {
		return nil, err
	}
	idx := domain.IndexOf(e.state.Items, productID)
	if product.Stock == 1 && idx >= 0 && e.state.Items[idx].Quantity >= 1 {
		e.state.IsOpen = true
		id := e.state.Identity
		e.mu.Unlock()
		e.emit(Event{Type: EventCartOpened, Identity: id, ProductID: productID})
		return nil, ErrUniqueItemLimit
	}

	line := domain.CartLine{
		ProductID: productID,
		Quantity:  qty,
		AddedAt:   e.now(),
		Snapshot:  product.Snapshot(e.currency),
	}
	if idx >= 0 {
		line.Quantity += e.state.Items[idx].Quantity
	}
	if line.Quantity > product.Stock {
		e.mu.Unlock()
		return nil, ErrInsufficientStock
	}

	e.putLineLocked(idx, line)
	e.state.MutationCounter++
	id := e.state.Identity
	pending := e.persistLocked("add", func(ctx context.Context, accountID string) error {
		return e.remote.UpsertLine(ctx, accountID, line)
	}, false)
	e.mu.Unlock()

	e.emit(Event{Type: EventItemAdded, Identity: id, ProductID: productID})
	return pending, nil
}

// Remove drops a product from the cart, whether or not it is present
func (e *Engine) Remove(ctx context.Context, productID int64) (*Pending, error) {
	if err := e.lockHydrated(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if idx := domain.IndexOf(e.state.Items, productID); idx >= 0 {
		items := domain.CloneLines(e.state.Items)
		e.state.Items = append(items[:idx], items[idx+1:]...)
	}
	return e.persistLocked("remove", func(ctx context.Context, accountID string) error {
		return e.remote.DeleteLines(ctx, accountID, productID)
	}, false), nil
}

// UpdateQuantity sets the quantity of a product already in the cart.
// A quantity of zero or less removes it.
func (e *Engine) UpdateQuantity(ctx context.Context, productID int64, qty int) (*Pending, error) {
	if qty <= 0 {
		return e.Remove(ctx, productID)
	}
	product, err := e.resolve(ctx, productID)
	if err != nil {
		return nil, err
	}

	if err := e.lockHydrated(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	idx := domain.IndexOf(e.state.Items, productID)
	if idx < 0 {
		return nil, ErrLineNotFound
	}
	if qty > product.Stock {
		return nil, ErrInsufficientStock
	}

	line := e.state.Items[idx]
	line.Quantity = qty
	line.Snapshot = product.Snapshot(e.currency)
	e.putLineLocked(idx, line)
	return e.persistLocked("update quantity", func(ctx context.Context, accountID string) error {
		return e.remote.UpsertLine(ctx, accountID, line)
	}, false), nil
}

// Clear empties the cart and deletes it from the backing store
func (e *Engine) Clear(ctx context.Context) (*Pending, error) {
	if err := e.lockHydrated(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	e.state.Items = nil
	return e.persistLocked("clear", func(ctx context.Context, accountID string) error {
		return e.remote.DeleteAll(ctx, accountID)
	}, true), nil
}

func (e *Engine) resolve(ctx context.Context, productID int64) (domain.Product, error) {
	product, err := e.products.Resolve(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.Product{}, ErrProductUnavailable
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: %w", ErrLookupUnavailable, err)
	}
	return product, nil
}

// putLineLocked replaces the line at idx, or appends it when idx is -1.
// Items are copied so snapshots handed out by State stay untouched.
func (e *Engine) putLineLocked(idx int, line domain.CartLine) {
	items := domain.CloneLines(e.state.Items)
	if idx >= 0 {
		items[idx] = line
	} else {
		items = append(items, line)
	}
	e.state.Items = items
}

// persistLocked queues the store write for the state just committed. Account
// carts get the given per-line write; anonymous carts are written whole from
// a copy taken now, or cleared when clearLocal is set.
func (e *Engine) persistLocked(op string, account func(ctx context.Context, accountID string) error, clearLocal bool) *Pending {
	id := e.state.Identity
	var run func(ctx context.Context) error
	switch {
	case id.IsAccount():
		run = func(ctx context.Context) error { return account(ctx, id.AccountID) }
	case clearLocal:
		run = e.local.Clear
	default:
		cart := domain.AnonymousCart{
			Items:       domain.CloneLines(e.state.Items),
			LastUpdated: e.now().UnixMilli(),
		}
		run = func(ctx context.Context) error { return e.local.Write(ctx, cart) }
	}

	pending := newPending()
	e.queue.push(job{
		name: op,
		run:  run,
		finish: func(err error) {
			if err != nil {
				err = fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
				e.log.Warn("cart persistence failed, keeping local state", "op", op, "identity", id.String(), "error", err)
				e.emit(Event{Type: EventPersistFailed, Identity: id, Err: err})
			}
			pending.finish(err)
		},
	})
	return pending
}
