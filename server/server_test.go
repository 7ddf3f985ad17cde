package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mmx233/ChatRelay/config"
	"github.com/Mmx233/ChatRelay/server/store"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Server {
	conf := &config.Server{
		Listen: "127.0.0.1:0",
		Auth:   config.ServerAuth{JWTSecret: strings.Repeat("x", 32)},
	}
	conf.ApplyDefaults()
	return conf
}

func TestNew_MemoryBackends(t *testing.T) {
	conf := testConfig()
	require.NoError(t, conf.Validate())

	srv, err := New(context.Background(), conf, Backends{})
	require.NoError(t, err)
	defer srv.Shutdown()

	assert.NotNil(t, srv.Handler())
	assert.Zero(t, srv.Registry().Count())
}

func TestServe_ShutdownClosesConnections(t *testing.T) {
	conf := testConfig()
	srv, err := New(context.Background(), conf, Backends{
		Users: store.NewMemory(store.User{Email: "alice@example.com"}),
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + conf.WebSocket.Path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"login","email":"alice@example.com"}`)))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"loginResponse"`)
	require.Equal(t, 1, srv.Registry().AuthenticatedCount())

	cancel()

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, shutdownReason, closeErr.Text)

	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Zero(t, srv.Registry().Count())

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err == nil {
		resp.Body.Close()
	}
	assert.Error(t, err, "listener is closed after shutdown")
}

func TestShutdown_RefusesNewConnections(t *testing.T) {
	srv, err := New(context.Background(), testConfig(), Backends{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	srv.Shutdown()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// Connections upgrading while Shutdown runs are either refused or closed,
// and Shutdown never waits on one it missed.
func TestShutdown_ConcurrentUpgrades(t *testing.T) {
	srv, err := New(context.Background(), testConfig(), Backends{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	const clients = 20
	results := make(chan error, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				if resp != nil {
					resp.Body.Close()
				}
				results <- nil
				return
			}
			defer ws.Close()
			_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					results <- err
					return
				}
			}
		}()
	}

	stopped := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown blocked on a connection it did not close")
	}

	wg.Wait()
	close(results)
	for err := range results {
		if err == nil {
			continue
		}
		var netErr net.Error
		assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection left open: %v", err)
	}
	assert.Zero(t, srv.Registry().Count())
}
