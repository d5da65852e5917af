// Package registry tracks live print-client connections by identity.
//
// A connection is registered once the transport has verified the client's
// token; it becomes authenticated after the client's own auth message. At
// most one connection is kept per identity: a new one replaces and closes
// the previous handle.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/logging"
)

const DefaultSweepInterval = 30 * time.Second

// Conn is the transport handle of one client connection.
type Conn interface {
	// Send writes one message and returns once the transport accepted it.
	Send(ctx context.Context, msg any) error
	// Ping sends a liveness probe; the answer is reported via MarkAlive.
	Ping(ctx context.Context) error
	Close() error
	// Open reports whether the handle can still send.
	Open() bool
}

type EventKind string

const (
	EventAdded         EventKind = "added"
	EventAuthenticated EventKind = "authenticated"
	EventRemoved       EventKind = "removed"
)

type Event struct {
	Kind     EventKind
	Identity string
	Reason   string
}

// Observer receives registry events synchronously, outside the registry's
// lock. Implementations must not block.
type Observer interface {
	RegistryEvent(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) RegistryEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Client is one authenticated identity and its handle.
type Client struct {
	Identity string
	Conn     Conn
}

type entry struct {
	conn          Conn
	authenticated bool
	alive         bool
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	obsMu     sync.RWMutex
	observers []Observer

	logger logging.Logger
}

func New(logger logging.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("module", "connection_registry"),
	}
}

func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) emit(ctx context.Context, ev Event) {
	r.obsMu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.obsMu.RUnlock()

	for _, o := range observers {
		o.RegistryEvent(ctx, ev)
	}
}

// Add registers conn for identity as not yet authenticated. A previous
// handle under the same identity is closed.
func (r *Registry) Add(ctx context.Context, identity string, conn Conn) {
	r.mu.Lock()
	prev := r.entries[identity]
	r.entries[identity] = &entry{conn: conn, alive: true}
	r.mu.Unlock()

	if prev != nil && prev.conn != conn {
		r.logger.Info(ctx, "replacing previous connection", "client_id", identity)
		_ = prev.conn.Close()
		r.emit(ctx, Event{Kind: EventRemoved, Identity: identity, Reason: "replaced"})
	}

	r.emit(ctx, Event{Kind: EventAdded, Identity: identity})
}

// Remove drops whatever connection identity has and closes it.
func (r *Registry) Remove(ctx context.Context, identity string) bool {
	r.mu.Lock()
	e, ok := r.entries[identity]
	if ok {
		delete(r.entries, identity)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	_ = e.conn.Close()
	r.emit(ctx, Event{Kind: EventRemoved, Identity: identity, Reason: "removed"})
	return true
}

// Release removes identity only while conn is still its registered handle,
// so a late disconnect of a replaced connection leaves the new one alone.
func (r *Registry) Release(ctx context.Context, identity string, conn Conn) bool {
	r.mu.Lock()
	e, ok := r.entries[identity]
	if !ok || e.conn != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, identity)
	r.mu.Unlock()

	_ = conn.Close()
	r.emit(ctx, Event{Kind: EventRemoved, Identity: identity, Reason: "disconnected"})
	return true
}

// Authenticate marks the connection conn of identity authenticated. It
// returns false when identity has no connection or its current connection
// is not conn. Repeated calls are no-ops.
func (r *Registry) Authenticate(ctx context.Context, identity string, conn Conn) bool {
	r.mu.Lock()
	e, ok := r.entries[identity]
	ok = ok && e.conn == conn
	first := ok && !e.authenticated
	if ok {
		e.authenticated = true
	}
	r.mu.Unlock()

	if first {
		r.emit(ctx, Event{Kind: EventAuthenticated, Identity: identity})
	}
	return ok
}

func (r *Registry) IsAuthenticated(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[identity]
	return ok && e.authenticated
}

func (r *Registry) Get(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[identity]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// GetAuthenticated returns the handle only for an authenticated identity.
func (r *Registry) GetAuthenticated(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[identity]
	if !ok || !e.authenticated {
		return nil, false
	}
	return e.conn, true
}

func (r *Registry) ListAuthenticated() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, 0, len(r.entries))
	for id, e := range r.entries {
		if e.authenticated {
			out = append(out, Client{Identity: id, Conn: e.conn})
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// MarkAlive records a liveness answer from conn.
func (r *Registry) MarkAlive(identity string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[identity]; ok && e.conn == conn {
		e.alive = true
	}
}

// Sweep removes connections that did not answer the previous probe and
// probes the rest. It returns the removed identities.
func (r *Registry) Sweep(ctx context.Context) []string {
	type probe struct {
		identity string
		conn     Conn
	}

	var dead []probe
	var alive []probe

	r.mu.Lock()
	for id, e := range r.entries {
		if !e.alive {
			dead = append(dead, probe{id, e.conn})
			delete(r.entries, id)
			continue
		}
		e.alive = false
		alive = append(alive, probe{id, e.conn})
	}
	r.mu.Unlock()

	removed := make([]string, 0, len(dead))
	for _, p := range dead {
		r.logger.Warn(ctx, "connection missed liveness probe", "client_id", p.identity)
		_ = p.conn.Close()
		r.emit(ctx, Event{Kind: EventRemoved, Identity: p.identity, Reason: "liveness"})
		removed = append(removed, p.identity)
	}

	for _, p := range alive {
		if err := p.conn.Ping(ctx); err != nil {
			r.logger.Debug(ctx, "ping failed", "client_id", p.identity, "error", err)
		}
	}

	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}
