package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

// DefaultPersistTimeout bounds a single store write issued by a command
const DefaultPersistTimeout = 10 * time.Second

// LocalStore holds the anonymous cart of one browsing context.
// Read returns (nil, nil) when no cart is stored.
type LocalStore interface {
	Read(ctx context.Context) (*domain.AnonymousCart, error)
	Write(ctx context.Context, cart domain.AnonymousCart) error
	Clear(ctx context.Context) error
}

// RemoteStore holds per-account cart lines
type RemoteStore interface {
	ReadAll(ctx context.Context, accountID string) ([]domain.CartLine, error)
	OverwriteAll(ctx context.Context, accountID string, lines []domain.CartLine) error
	DeleteAll(ctx context.Context, accountID string) error
	UpsertLine(ctx context.Context, accountID string, line domain.CartLine) error
	DeleteLines(ctx context.Context, accountID string, productIDs ...int64) error
}

// ProductLookup resolves live product data. Resolve returns
// domain.ErrProductNotFound for unknown ids, ResolveMany omits them.
type ProductLookup interface {
	Resolve(ctx context.Context, productID int64) (domain.Product, error)
	ResolveMany(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)
}

// State is a snapshot of the engine state handed to consumers
type State struct {
	Items           []domain.CartLine
	Identity        domain.Identity
	IsOpen          bool
	MutationCounter int
	Hydrating       bool
	// Warning is the last hydration failure, nil when the cart loaded cleanly
	Warning error
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCurrency sets the storefront currency prices must be quoted in
func WithCurrency(code string) Option {
	return func(e *Engine) { e.currency = code }
}

func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) { e.persistTimeout = d }
}

// Engine owns the cart of one browsing context. Commands and hydration are
// serialized: state changes happen under mu, store I/O runs on a single
// worker goroutine in submission order.
type Engine struct {
	local    LocalStore
	remote   RemoteStore
	products ProductLookup

	currency       string
	persistTimeout time.Duration
	now            func() time.Time
	log            *slog.Logger
	listener       Listener

	mu       sync.Mutex
	state    State
	gen      uint64
	cancel   context.CancelFunc
	hydrated chan struct{}
	closed   bool

	queue *jobQueue
	stop  chan struct{}
	wg    sync.WaitGroup
}

// New creates an engine and starts hydrating the anonymous cart
func New(local LocalStore, remote RemoteStore, products ProductLookup, opts ...Option) *Engine {
	e := &Engine{
		local:          local,
		remote:         remote,
		products:       products,
		currency:       "USD",
		persistTimeout: DefaultPersistTimeout,
		now:            time.Now,
		log:            slog.Default(),
		queue:          newJobQueue(),
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.wg.Add(1)
	go e.worker()

	e.mu.Lock()
	e.startHydrationLocked(domain.NoIdentity())
	e.mu.Unlock()
	return e
}

// State returns a copy of the current state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	s.Items = domain.CloneLines(e.state.Items)
	return s
}

func (e *Engine) Identity() domain.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Identity
}

func (e *Engine) MutationCounter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.MutationCounter
}

func (e *Engine) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.IsOpen
}

// Toggle flips the open flag and returns the new value
func (e *Engine) Toggle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.IsOpen = !e.state.IsOpen
	return e.state.IsOpen
}

// SetIdentity reacts to an identity signal. Switching to a different backing
// store abandons any in-flight hydration and starts a new one.
func (e *Engine) SetIdentity(id domain.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.state.Identity.SameBacking(id) {
		e.state.Identity = id
		return
	}
	e.startHydrationLocked(id)
}

// Refresh hydrates the current identity again, e.g. after a failed load or
// when the account cart was changed outside this engine.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.startHydrationLocked(e.state.Identity)
}

// WaitHydrated blocks until no hydration is in flight
func (e *Engine) WaitHydrated(ctx context.Context) error {
	err := e.lockHydrated(ctx)
	if err != nil {
		return err
	}
	e.mu.Unlock()
	return nil
}

// Close stops the worker after it has run everything already queued
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	close(e.stop)
	e.wg.Wait()
}

// lockHydrated waits for hydration to settle and returns with mu held
func (e *Engine) lockHydrated(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}
		if !e.state.Hydrating {
			return nil
		}
		ready := e.hydrated
		e.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) startHydrationLocked(id domain.Identity) {
	if e.cancel != nil {
		e.cancel()
	}
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})

	e.cancel = cancel
	e.hydrated = ready
	e.state.Identity = id
	e.state.Items = nil
	e.state.Hydrating = true
	e.state.Warning = nil

	e.queue.push(job{
		name: "hydrate " + id.String(),
		ctx:  ctx,
		run: func(ctx context.Context) error {
			defer close(ready)
			defer cancel()
			e.hydrate(ctx, gen, id)
			return nil
		},
	})
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		if j, ok := e.queue.pop(); ok {
			e.runJob(j)
			continue
		}
		select {
		case <-e.queue.signal:
		case <-e.stop:
			for {
				j, ok := e.queue.pop()
				if !ok {
					return
				}
				e.runJob(j)
			}
		}
	}
}

func (e *Engine) runJob(j job) {
	ctx := j.ctx
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), e.persistTimeout)
		defer cancel()
	}
	err := j.run(ctx)
	if j.finish != nil {
		j.finish(err)
	}
}

func (e *Engine) emit(events ...Event) {
	if e.listener == nil {
		return
	}
	for _, ev := range events {
		e.listener(ev)
	}
}
