package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	reason   string
	sendErr  error
	closeCnt int
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
	f.closeCnt++
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:5000" }

func (f *fakeTransport) snapshot() (frames [][]byte, closed bool, closeCnt int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...), f.closed, f.closeCnt
}

func newTestRegistry() *Registry {
	return New(zerolog.Nop())
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry()

	conn, err := r.Register("c1", &fakeTransport{})
	require.NoError(t, err)
	assert.Equal(t, "c1", conn.ID)
	assert.Equal(t, PhaseUnauthenticated, conn.Phase())
	assert.Equal(t, "127.0.0.1:5000", conn.RemoteAddr)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 0, r.AuthenticatedCount())

	_, err = r.Register("c1", &fakeTransport{})
	assert.ErrorIs(t, err, ErrDuplicateConnection)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Bind(t *testing.T) {
	r := newTestRegistry()
	conn, err := r.Register("c1", &fakeTransport{})
	require.NoError(t, err)

	res, err := r.Bind("c1", "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, res.Evicted)
	assert.False(t, res.AlreadyBound)
	assert.Equal(t, PhaseAuthenticated, conn.Phase())
	assert.Equal(t, "a@x.com", conn.Identity())

	found, ok := r.LookupByUser("a@x.com")
	require.True(t, ok)
	assert.Same(t, conn, found)
}

func TestRegistry_Bind_Unknown(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Bind("missing", "a@x.com")
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	_, ok := r.LookupByUser("a@x.com")
	assert.False(t, ok)
}

func TestRegistry_Bind_Idempotent(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register("c1", &fakeTransport{})
	require.NoError(t, err)

	_, err = r.Bind("c1", "a@x.com")
	require.NoError(t, err)
	res, err := r.Bind("c1", "a@x.com")
	require.NoError(t, err)

	assert.True(t, res.AlreadyBound)
	assert.Nil(t, res.Evicted)
	assert.Equal(t, 1, r.AuthenticatedCount())
}

func TestRegistry_Bind_EvictsPrior(t *testing.T) {
	r := newTestRegistry()
	ta, tb := &fakeTransport{}, &fakeTransport{}
	a, err := r.Register("a", ta)
	require.NoError(t, err)
	b, err := r.Register("b", tb)
	require.NoError(t, err)

	_, err = r.Bind("a", "u1@x.com")
	require.NoError(t, err)
	res, err := r.Bind("b", "u1@x.com")
	require.NoError(t, err)

	require.NotNil(t, res.Evicted)
	assert.Same(t, a, res.Evicted)
	assert.Equal(t, PhaseClosing, a.Phase())

	_, ok := r.Lookup("a")
	assert.False(t, ok, "evicted connection must leave the registry")

	found, ok := r.LookupByUser("u1@x.com")
	require.True(t, ok)
	assert.Same(t, b, found)

	require.NoError(t, r.CloseWith(res.Evicted, "evicted", []byte("bye")))
	frames, closed, _ := ta.snapshot()
	assert.True(t, closed)
	assert.Equal(t, [][]byte{[]byte("bye")}, frames)
	assert.Equal(t, PhaseClosed, a.Phase())

	// The evicted connection's own teardown must not touch the new binding
	assert.Equal(t, "", r.Remove("a"))
	found, ok = r.LookupByUser("u1@x.com")
	require.True(t, ok)
	assert.Same(t, b, found)
}

func TestRegistry_Bind_SwitchUser(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register("c1", &fakeTransport{})
	require.NoError(t, err)

	_, err = r.Bind("c1", "a@x.com")
	require.NoError(t, err)
	res, err := r.Bind("c1", "b@x.com")
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", res.Replaced)
	_, ok := r.LookupByUser("a@x.com")
	assert.False(t, ok)
	_, ok = r.LookupByUser("b@x.com")
	assert.True(t, ok)
}

func TestRegistry_Bind_ClosingConnection(t *testing.T) {
	r := newTestRegistry()
	conn, err := r.Register("c1", &fakeTransport{})
	require.NoError(t, err)
	conn.advance(PhaseClosing)

	_, err = r.Bind("c1", "a@x.com")
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestRegistry_Remove_Idempotent(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register("c1", &fakeTransport{})
	require.NoError(t, err)
	_, err = r.Bind("c1", "a@x.com")
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", r.Remove("c1"))
	assert.Equal(t, "", r.Remove("c1"))
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, r.AuthenticatedCount())
}

func TestConnection_SendAfterClose(t *testing.T) {
	r := newTestRegistry()
	tr := &fakeTransport{}
	conn, err := r.Register("c1", tr)
	require.NoError(t, err)

	require.NoError(t, conn.Send([]byte("hello")))
	require.NoError(t, r.Close(conn, "done"))
	require.NoError(t, r.Close(conn, "again"))

	assert.ErrorIs(t, conn.Send([]byte("late")), ErrConnectionClosed)
	frames, closed, closeCnt := tr.snapshot()
	assert.Len(t, frames, 1)
	assert.True(t, closed)
	assert.Equal(t, 1, closeCnt)
}

func TestConnection_SendTransportError(t *testing.T) {
	r := newTestRegistry()
	conn, err := r.Register("c1", &fakeTransport{sendErr: errors.New("queue full")})
	require.NoError(t, err)

	assert.ErrorIs(t, conn.Send([]byte("x")), ErrConnectionClosed)
}

func TestRegistry_Touch(t *testing.T) {
	r := newTestRegistry()
	conn, err := r.Register("c1", &fakeTransport{})
	require.NoError(t, err)

	before := conn.LastActivity()
	r.Touch("c1")
	assert.False(t, conn.LastActivity().Before(before))
	r.Touch("missing")
}

func TestRegistry_ConcurrentBindSameIdentity(t *testing.T) {
	r := newTestRegistry()
	const n = 32
	for i := 0; i < n; i++ {
		_, err := r.Register(fmt.Sprintf("c%d", i), &fakeTransport{})
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		evicted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			unlock := r.LockIdentity("u@x.com")
			defer unlock()
			res, err := r.Bind(id, "u@x.com")
			if err != nil {
				return
			}
			if res.Evicted != nil {
				mu.Lock()
				evicted++
				mu.Unlock()
			}
		}(fmt.Sprintf("c%d", i))
	}
	wg.Wait()

	// Every bind but the first evicts exactly one connection
	assert.Equal(t, n-1, evicted)
	assert.Equal(t, 1, r.AuthenticatedCount())
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 0, r.identities.size())
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	var k keyedMutex
	k.locks = make(map[string]*refMutex)

	unlockA := k.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
	unlockA()
	assert.Equal(t, 0, k.size())
}

// At most one live connection is bound to an identity, and the reverse map
// always agrees with the connections' own identity.
func TestRegistry_SingleBinding_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := newTestRegistry()
		ids := []string{"c0", "c1", "c2", "c3", "c4"}
		emails := []string{"a@x.com", "b@x.com", "c@x.com"}

		t.Repeat(map[string]func(*rapid.T){
			"register": func(t *rapid.T) {
				id := rapid.SampledFrom(ids).Draw(t, "id")
				_, existed := r.Lookup(id)
				_, err := r.Register(id, &fakeTransport{})
				if existed != errors.Is(err, ErrDuplicateConnection) {
					t.Fatalf("register %s: existed=%v err=%v", id, existed, err)
				}
			},
			"bind": func(t *rapid.T) {
				id := rapid.SampledFrom(ids).Draw(t, "id")
				email := rapid.SampledFrom(emails).Draw(t, "email")
				prior, hadPrior := r.LookupByUser(email)
				res, err := r.Bind(id, email)
				if err != nil {
					return
				}
				if hadPrior && prior.ID != id {
					if res.Evicted != prior {
						t.Fatalf("expected %s to be evicted, got %v", prior.ID, res.Evicted)
					}
					if _, ok := r.Lookup(prior.ID); ok {
						t.Fatalf("evicted %s still registered", prior.ID)
					}
				} else if res.Evicted != nil {
					t.Fatalf("unexpected eviction of %s", res.Evicted.ID)
				}
			},
			"remove": func(t *rapid.T) {
				id := rapid.SampledFrom(ids).Draw(t, "id")
				r.Remove(id)
				if again := r.Remove(id); again != "" {
					t.Fatalf("second remove of %s unbound %q", id, again)
				}
			},
			"": func(t *rapid.T) {
				owners := make(map[string]string)
				for _, conn := range r.List() {
					if !conn.Authenticated() {
						continue
					}
					email := conn.Identity()
					if other, dup := owners[email]; dup {
						t.Fatalf("%s bound to both %s and %s", email, other, conn.ID)
					}
					owners[email] = conn.ID
				}
				for _, conn := range r.Authenticated() {
					if owners[conn.Identity()] != conn.ID {
						t.Fatalf("reverse map disagrees for %s", conn.Identity())
					}
				}
				if len(owners) != r.AuthenticatedCount() {
					t.Fatalf("authenticated count %d, owners %d", r.AuthenticatedCount(), len(owners))
				}
			},
		})
	})
}
