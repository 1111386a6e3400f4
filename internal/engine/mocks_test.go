package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type mockLocal struct {
	m        sync.RWMutex
	cart     *domain.AnonymousCart
	readErr  error
	writeErr error
	writes   int
	clears   int
}

func (m *mockLocal) Read(context.Context) (*domain.AnonymousCart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.cart == nil {
		return nil, nil
	}
	c := *m.cart
	c.Items = domain.CloneLines(m.cart.Items)
	return &c, nil
}

func (m *mockLocal) Write(_ context.Context, cart domain.AnonymousCart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.cart = &cart
	return nil
}

func (m *mockLocal) Clear(context.Context) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.clears++
	m.cart = nil
	return nil
}

func (m *mockLocal) getCart() *domain.AnonymousCart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.cart
}

type mockRemote struct {
	m        sync.RWMutex
	lines    map[string][]domain.CartLine
	readErr  error
	writeErr error
	// readGate and overwriteGate, when set, hold the call until closed
	readGate      chan struct{}
	overwriteGate chan struct{}
	// with insertGate set, OverwriteAll deletes, closes deleted, waits for
	// insertGate and then inserts unless ctx is done, like the Mongo repository
	insertGate chan struct{}
	deleted    chan struct{}
	ops        []string
}

func newMockRemote() *mockRemote {
	return &mockRemote{lines: make(map[string][]domain.CartLine)}
}

func (m *mockRemote) ReadAll(_ context.Context, accountID string) ([]domain.CartLine, error) {
	if m.readGate != nil {
		<-m.readGate
	}
	m.m.RLock()
	defer m.m.RUnlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return domain.CloneLines(m.lines[accountID]), nil
}

func (m *mockRemote) OverwriteAll(ctx context.Context, accountID string, lines []domain.CartLine) error {
	if m.overwriteGate != nil {
		<-m.overwriteGate
	}
	if m.insertGate != nil {
		m.m.Lock()
		delete(m.lines, accountID)
		m.m.Unlock()
		close(m.deleted)
		<-m.insertGate
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	m.m.Lock()
	defer m.m.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.ops = append(m.ops, "overwrite")
	m.lines[accountID] = domain.CloneLines(lines)
	return nil
}

func (m *mockRemote) DeleteAll(_ context.Context, accountID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.ops = append(m.ops, "delete_all")
	delete(m.lines, accountID)
	return nil
}

func (m *mockRemote) UpsertLine(_ context.Context, accountID string, line domain.CartLine) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.ops = append(m.ops, fmt.Sprintf("upsert:%d", line.ProductID))
	lines := m.lines[accountID]
	if i := domain.IndexOf(lines, line.ProductID); i >= 0 {
		lines[i] = line
	} else {
		lines = append(lines, line)
	}
	m.lines[accountID] = lines
	return nil
}

func (m *mockRemote) DeleteLines(_ context.Context, accountID string, productIDs ...int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, id := range productIDs {
		m.ops = append(m.ops, fmt.Sprintf("delete:%d", id))
		lines := m.lines[accountID]
		if i := domain.IndexOf(lines, id); i >= 0 {
			m.lines[accountID] = append(lines[:i], lines[i+1:]...)
		}
	}
	return nil
}

func (m *mockRemote) getLines(accountID string) []domain.CartLine {
	m.m.RLock()
	defer m.m.RUnlock()
	return domain.CloneLines(m.lines[accountID])
}

func (m *mockRemote) getOps() []string {
	m.m.RLock()
	defer m.m.RUnlock()
	return append([]string(nil), m.ops...)
}

type mockProducts struct {
	m        sync.RWMutex
	products map[int64]domain.Product
	err      error
}

func newMockProducts(products ...domain.Product) *mockProducts {
	m := &mockProducts{products: make(map[int64]domain.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockProducts) Resolve(_ context.Context, id int64) (domain.Product, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return domain.Product{}, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (m *mockProducts) ResolveMany(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type eventRecorder struct {
	m      sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(ev Event) {
	r.m.Lock()
	defer r.m.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) has(t EventType) bool {
	r.m.Lock()
	defer r.m.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func product(id int64, price string, stock int) domain.Product {
	return domain.Product{
		ID:       id,
		Name:     fmt.Sprintf("product-%d", id),
		Price:    decimal.RequireFromString(price),
		Currency: "USD",
		Stock:    stock,
	}
}

func line(productID int64, qty int, addedAt time.Time) domain.CartLine {
	return domain.CartLine{ProductID: productID, Quantity: qty, AddedAt: addedAt}
}

func anonCart(updated time.Time, lines ...domain.CartLine) *domain.AnonymousCart {
	return &domain.AnonymousCart{Items: lines, LastUpdated: updated.UnixMilli()}
}

func newTestEngine(t *testing.T, local *mockLocal, remote *mockRemote, products *mockProducts, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e := New(local, remote, products, opts...)
	t.Cleanup(e.Close)
	return e
}

func waitHydrated(t *testing.T, e *Engine) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.WaitHydrated(ctx))
	return e.State()
}

func waitPersisted(t *testing.T, p *Pending) error {
	t.Helper()
	require.NotNil(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-p.Done():
	case <-ctx.Done():
		t.Fatal("persistence did not finish")
	}
	return p.Wait(ctx)
}

func quantities(lines []domain.CartLine) map[int64]int {
	out := make(map[int64]int, len(lines))
	for _, l := range lines {
		out[l.ProductID] = l.Quantity
	}
	return out
}
