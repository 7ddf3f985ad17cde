package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrConnectionClosed    = errors.New("connection closed")
)

// BindResult describes the side effects of a Bind call.
type BindResult struct {
	// Evicted is the connection that previously held the identity. It has been
	// removed from the registry and is in PhaseClosing; the caller closes it.
	Evicted *Connection
	// AlreadyBound is true when the connection already held the identity.
	AlreadyBound bool
	// Replaced is the identity the connection held before switching users.
	Replaced string
}

// Registry tracks live connections and the user bound to each of them.
// A user maps to at most one authenticated connection at a time.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection // connection id -> connection
	users map[string]*Connection // email -> connection

	identities keyedMutex
	logger     zerolog.Logger
}

func New(logger zerolog.Logger) *Registry {
	return &Registry{
		conns:      make(map[string]*Connection),
		users:      make(map[string]*Connection),
		identities: keyedMutex{locks: make(map[string]*refMutex)},
		logger:     logger,
	}
}

// Register adds an unauthenticated connection.
func (r *Registry) Register(id string, transport Transport) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}

	conn := newConnection(id, transport)
	r.conns[id] = conn

	r.logger.Debug().
		Str("conn_id", id).
		Str("remote_addr", conn.RemoteAddr).
		Msg("connection registered")

	return conn, nil
}

// LockIdentity serializes work on one identity. Logins for different
// identities never wait on each other.
func (r *Registry) LockIdentity(email string) (unlock func()) {
	return r.identities.lock(email)
}

// Bind authenticates a connection as email. A different connection holding
// the same identity is evicted and returned in the result.
func (r *Registry) Bind(id, email string) (BindResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res BindResult
	conn, ok := r.conns[id]
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	if conn.Phase() >= PhaseClosing {
		return res, fmt.Errorf("%w: %s", ErrConnectionClosed, id)
	}

	if prev := conn.Identity(); prev != "" {
		if prev == email && r.users[email] == conn {
			res.AlreadyBound = true
			return res, nil
		}
		if r.users[prev] == conn {
			delete(r.users, prev)
		}
		res.Replaced = prev
	}

	if other, exists := r.users[email]; exists && other != conn {
		delete(r.conns, other.ID)
		other.advance(PhaseClosing)
		res.Evicted = other
	}

	r.users[email] = conn
	conn.setIdentity(email)
	conn.phase.CompareAndSwap(int32(PhaseUnauthenticated), int32(PhaseAuthenticated))

	event := r.logger.Info().
		Str("conn_id", id).
		Str("email", email)
	if res.Evicted != nil {
		event = event.Str("evicted_conn_id", res.Evicted.ID)
	}
	if res.Replaced != "" {
		event = event.Str("replaced", res.Replaced)
	}
	event.Msg("connection bound")

	return res, nil
}

// LookupByUser returns the connection bound to email.
func (r *Registry) LookupByUser(email string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.users[email]
	return conn, ok
}

// Lookup returns a registered connection by id.
func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	return conn, ok
}

// Remove drops the connection and its binding. It returns the identity that
// lost its only connection, or "" when nothing was bound. Removing an absent
// id is a no-op.
func (r *Registry) Remove(id string) (unbound string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ""
	}
	delete(r.conns, id)
	conn.advance(PhaseClosing)

	if email := conn.Identity(); email != "" && r.users[email] == conn {
		delete(r.users, email)
		unbound = email
	}

	r.logger.Debug().
		Str("conn_id", id).
		Str("email", unbound).
		Dur("age", time.Since(conn.ConnectedAt)).
		Msg("connection removed")

	return unbound
}

// Close closes the connection's transport and marks it closed.
func (r *Registry) Close(conn *Connection, reason string) error {
	return r.CloseWith(conn, reason, nil)
}

// CloseWith queues a last frame before closing. The frame is sent even though
// the connection is already closing.
func (r *Registry) CloseWith(conn *Connection, reason string, farewell []byte) error {
	if conn.Phase() == PhaseClosed {
		return nil
	}
	conn.advance(PhaseClosing)

	if farewell != nil {
		if err := conn.transport.Send(farewell); err != nil {
			r.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("farewell frame not queued")
		}
	}

	if !conn.advance(PhaseClosed) {
		return nil
	}
	if err := conn.transport.Close(reason); err != nil {
		return fmt.Errorf("close connection %s: %w", conn.ID, err)
	}
	return nil
}

// Touch records activity on a connection.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if conn, ok := r.conns[id]; ok {
		conn.lastActivity.Store(time.Now().UnixNano())
	}
}

// Authenticated returns a snapshot of all bound connections.
func (r *Registry) Authenticated() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.users))
	for _, conn := range r.users {
		conns = append(conns, conn)
	}
	return conns
}

// List returns a snapshot of all registered connections.
func (r *Registry) List() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) AuthenticatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
