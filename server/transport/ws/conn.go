package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Mmx233/ChatRelay/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrClosed        = errors.New("websocket connection closed")
	ErrSendQueueFull = errors.New("websocket send queue full")
)

// maxCloseReasonLen is the room left for a reason in a close frame payload.
const maxCloseReasonLen = 123

type Options struct {
	ReadLimit  int64
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	SendBuffer int
}

// OptionsFrom converts the server websocket configuration.
func OptionsFrom(c config.WebSocket) Options {
	return Options{
		ReadLimit:  c.ReadLimit,
		WriteWait:  c.WriteWait,
		PongWait:   c.PongWait,
		PingPeriod: c.PingPeriod(),
		SendBuffer: c.SendBuffer,
	}
}

// Conn wraps a gorilla connection with a buffered send queue drained by a
// single writer goroutine. Frames are written in the order they were queued.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger zerolog.Logger

	mu          sync.Mutex
	closed      bool
	closeReason string
	send        chan []byte
	closing     chan struct{}
}

func NewConn(ws *websocket.Conn, opts Options, logger zerolog.Logger) *Conn {
	return &Conn{
		ws:      ws,
		opts:    opts,
		logger:  logger,
		send:    make(chan []byte, opts.SendBuffer),
		closing: make(chan struct{}),
	}
}

// Send queues a frame without blocking.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops accepting frames. Frames already queued are flushed before the
// close frame carrying reason is written. Calling Close again is a no-op.
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeReason = reason
	close(c.closing)
	return nil
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Run starts the writer and reads frames until the connection fails or is
// closed, handing each one to handle on the calling goroutine. It returns
// after both loops have exited and the socket is released.
func (c *Conn) Run(handle func(frame []byte)) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(handle)

	_ = c.Close("")
	<-writerDone
	_ = c.ws.Close()
}

func (c *Conn) readPump(handle func(frame []byte)) {
	if c.opts.ReadLimit > 0 {
		c.ws.SetReadLimit(c.opts.ReadLimit)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.extendReadDeadline()
		handle(data)
	}
}

func (c *Conn) writePump() {
	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.abort(err)
				return
			}
		case <-tick:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.abort(err)
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then the close frame. The reader is
// given WriteWait to see the peer's close reply.
func (c *Conn) flush() {
drain:
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.abort(err)
				return
			}
		default:
			break drain
		}
	}

	c.mu.Lock()
	reason := c.closeReason
	c.mu.Unlock()
	if len(reason) > maxCloseReasonLen {
		reason = reason[:maxCloseReasonLen]
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := c.write(websocket.CloseMessage, msg); err != nil {
		c.abort(err)
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.WriteWait))
}

func (c *Conn) write(messageType int, data []byte) error {
	if c.opts.WriteWait > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	}
	return c.ws.WriteMessage(messageType, data)
}

// abort drops the socket so a blocked reader returns.
func (c *Conn) abort(err error) {
	c.logger.Debug().Err(err).Msg("websocket write failed")
	_ = c.ws.Close()
}

func (c *Conn) extendReadDeadline() {
	if c.opts.PongWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	}
}

// Upgrader turns HTTP requests into Conns.
type Upgrader struct {
	upgrader websocket.Upgrader
	opts     Options
}

func NewUpgrader(opts Options) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
}

// Upgrade completes the handshake. On failure gorilla has already written an
// HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) (*Conn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(conn, u.opts, logger), nil
}
