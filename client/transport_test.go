package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSDialer_RoundTrip(t *testing.T) {
	url := echoServer(t)
	dialer := NewWSDialer(time.Second, time.Second)

	conn, err := dialer.Dial(context.Background(), url)
	require.NoError(t, err)

	require.NoError(t, conn.Send([]byte(`{"action":"login","email":"alice@example.com"}`)))
	frame, err := conn.Receive()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"login","email":"alice@example.com"}`, string(frame))

	require.NoError(t, conn.Close())
	_, err = conn.Receive()
	assert.Error(t, err)
}

func TestWSDialer_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := NewWSDialer(time.Second, time.Second).Dial(context.Background(), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ")
}

func TestSupervisor_OverWebSocket(t *testing.T) {
	url := echoServer(t)
	frames := make(chan []byte, 1)
	sup := NewSupervisor(SupervisorConfig{
		URL:     url,
		Dialer:  NewWSDialer(time.Second, time.Second),
		Policy:  testPolicy(),
		OnFrame: func(frame []byte) { frames <- frame },
	})
	defer sup.Close()

	require.NoError(t, sup.Connect(context.Background()))
	require.NoError(t, sup.Send([]byte(`{"action":"ping"}`)))
	assert.Equal(t, `{"action":"ping"}`, string(wait[[]byte](t, frames)))
}
