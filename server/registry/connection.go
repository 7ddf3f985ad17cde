package registry

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Phase is the lifecycle stage of a connection.
type Phase int32

const (
	PhaseUnauthenticated Phase = iota
	PhaseAuthenticated
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the write side of a live client connection.
type Transport interface {
	// Send queues a text frame without blocking on the network.
	Send(frame []byte) error
	// Close flushes queued frames and closes the connection.
	Close(reason string) error
	RemoteAddr() string
}

// Connection is the registry's view of one client connection.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	transport    Transport
	phase        atomic.Int32
	lastActivity atomic.Int64 // unix nanos
	identity     atomic.Pointer[string]
}

func newConnection(id string, transport Transport) *Connection {
	now := time.Now()
	c := &Connection{
		ID:          id,
		RemoteAddr:  transport.RemoteAddr(),
		ConnectedAt: now,
		transport:   transport,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Connection) Phase() Phase {
	return Phase(c.phase.Load())
}

// Identity returns the email bound to the connection, or "".
func (c *Connection) Identity() string {
	if p := c.identity.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Connection) Authenticated() bool {
	return c.Phase() == PhaseAuthenticated
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Send queues a frame for the connection.
func (c *Connection) Send(frame []byte) error {
	if c.Phase() >= PhaseClosing {
		return ErrConnectionClosed
	}
	if err := c.transport.Send(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (c *Connection) setIdentity(email string) {
	if email == "" {
		c.identity.Store(nil)
		return
	}
	c.identity.Store(&email)
}

// advance moves the phase forward to p and reports whether it changed.
// Phases never go backwards.
func (c *Connection) advance(p Phase) bool {
	for {
		cur := c.phase.Load()
		if Phase(cur) >= p {
			return false
		}
		if c.phase.CompareAndSwap(cur, int32(p)) {
			return true
		}
	}
}
