// Package session keeps one cart engine per browsing session
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/engine"
)

const (
	// DefaultIdleTimeout is how long an untouched session keeps its engine
	DefaultIdleTimeout = 30 * time.Minute

	minSweepInterval = time.Second
)

// Factory builds the engine of a new session
type Factory func(sessionID string) *engine.Engine

type entry struct {
	engine   *engine.Engine
	lastSeen time.Time
}

// Registry owns the engines of live sessions. Engines idle for longer than
// the idle timeout are closed by a background sweep; the carts they hold are
// already persisted and come back on the next request.
type Registry struct {
	factory     Factory
	idleTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	stopSweep chan struct{}
	wg        sync.WaitGroup
}

type Option func(*Registry)

func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:     factory,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		log:         slog.Default(),
		sessions:    make(map[string]*entry),
		stopSweep:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// Get returns the engine of sessionID, creating it on first use, and feeds it
// the identity the request was made with. It returns nil once the registry
// is closed.
func (r *Registry) Get(sessionID string, id domain.Identity) *engine.Engine {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	e, ok := r.sessions[sessionID]
	if !ok {
		e = &entry{engine: r.factory(sessionID)}
		r.sessions[sessionID] = e
		r.log.Debug("session engine created", "session_id", sessionID)
	}
	e.lastSeen = r.now()
	r.mu.Unlock()

	e.engine.SetIdentity(id)
	return e.engine
}

// ResetAccount re-hydrates every live engine bound to accountID and returns
// how many there were
func (r *Registry) ResetAccount(accountID string) int {
	r.mu.Lock()
	var engines []*engine.Engine
	for _, e := range r.sessions {
		if e.engine.Identity() == domain.Account(accountID) {
			engines = append(engines, e.engine)
		}
	}
	r.mu.Unlock()

	for _, e := range engines {
		e.Refresh()
	}
	return len(engines)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the sweep and closes every engine, letting queued writes finish
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	close(r.stopSweep)
	r.wg.Wait()

	for _, e := range sessions {
		e.engine.Close()
	}
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(max(r.idleTimeout/2, minSweepInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopSweep:
			return
		}
	}
}

// evictIdle closes engines not used within the idle timeout
func (r *Registry) evictIdle() int {
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var idle []*engine.Engine
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.engine)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		e.Close()
	}
	if len(idle) > 0 {
		r.log.Info("evicted idle sessions", "count", len(idle))
	}
	return len(idle)
}
