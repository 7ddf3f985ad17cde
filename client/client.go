package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mmx233/ChatRelay/config"
	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUserNotFound matches a ServerError of type USER_NOT_FOUND.
var ErrUserNotFound = errors.New("user not found")

// ServerError is an error frame answered by the server.
type ServerError struct {
	Type    protocol.ErrorType
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrUserNotFound && e.Type == protocol.ErrorTypeUserNotFound
}

// DefaultEventBuffer is how many unread server pushes are kept before new
// ones are dropped.
const DefaultEventBuffer = 64

type Options struct {
	Dialer Dialer
	Clock  Clock
	Cache  *SessionCache
	// OnStateChange and OnExhausted surface connection health to the user.
	OnStateChange func(State)
	OnExhausted   func()
}

type reply struct {
	msg protocol.Outbound
	err error
}

// Client is a chat client holding one supervised connection. The server
// answers requests in order per action, so waiters are kept as FIFO queues.
// A queue is reset when the connection is lost.
type Client struct {
	sup     *Supervisor
	cache   *SessionCache
	timeout time.Duration
	events  chan protocol.Outbound
	opts    Options

	mu      sync.Mutex
	email   string
	waiters map[string][]chan reply
	closed  bool

	relogins sync.WaitGroup
	logger   zerolog.Logger
}

// New creates a client for conf. Nil options fall back to a WebSocket
// dialer, the wall clock and an in-memory session cache.
func New(conf *config.Client, opts Options) *Client {
	logger := log.With().Str("com", "client").Logger()

	if opts.Dialer == nil {
		opts.Dialer = NewWSDialer(conf.RequestTimeout, conf.RequestTimeout)
	}
	if opts.Cache == nil {
		opts.Cache, _ = LoadSessionCache("")
	}

	c := &Client{
		cache:   opts.Cache,
		timeout: conf.RequestTimeout,
		events:  make(chan protocol.Outbound, DefaultEventBuffer),
		opts:    opts,
		waiters: make(map[string][]chan reply),
		logger:  logger,
	}
	c.sup = NewSupervisor(SupervisorConfig{
		URL:            conf.URL,
		Dialer:         opts.Dialer,
		Clock:          opts.Clock,
		Policy:         conf.Reconnect,
		DialTimeout:    conf.RequestTimeout,
		OnFrame:        c.handleFrame,
		OnConnected:    c.onConnected,
		OnDisconnected: c.onDisconnected,
		OnExhausted:    opts.OnExhausted,
		OnStateChange:  opts.OnStateChange,
		Logger:         log.With().Str("com", "supervisor").Logger(),
	})
	return c
}

// Events delivers server pushes: chat messages, presence changes, eviction
// notices and unsolicited errors. It is closed by Close.
func (c *Client) Events() <-chan protocol.Outbound {
	return c.events
}

func (c *Client) Supervisor() *Supervisor {
	return c.sup
}

func (c *Client) Cache() *SessionCache {
	return c.cache
}

// Connect opens the connection if it is not already open.
func (c *Client) Connect(ctx context.Context) error {
	return c.sup.Connect(ctx)
}

// Disconnect closes the connection; no reconnect follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.email = ""
	c.mu.Unlock()
	c.sup.Disconnect()
	c.failWaiters(ErrConnectionLost)
}

// Close disconnects and releases every goroutine. The client is unusable afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.sup.Close()
	c.failWaiters(ErrConnectionLost)
	c.relogins.Wait()
	close(c.events)
}

// Login authenticates the connection as email, connecting first if needed.
// The email is remembered and logged in again after automatic reconnects.
func (c *Client) Login(ctx context.Context, email string) (*protocol.LoginResponse, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	resp, err := c.login(ctx, email)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.email = email
	c.mu.Unlock()

	if resp.Tokens != nil {
		c.cache.SetTokens(*resp.Tokens)
	}
	if resp.User != nil {
		if err := c.cache.SetUser(*resp.User); err != nil {
			c.logger.Warn().Err(err).Msg("cache user profile")
		}
	}
	if err := c.cache.Save(); err != nil {
		c.logger.Warn().Err(err).Msg("save session cache")
	}
	return resp, nil
}

func (c *Client) login(ctx context.Context, email string) (*protocol.LoginResponse, error) {
	msg, err := c.request(ctx, protocol.LoginRequest{Email: email}, protocol.ActionLoginResponse)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(protocol.LoginResponse)
	if !ok {
		return nil, responseError(msg)
	}
	if resp.Error != "" {
		return nil, &ServerError{Type: resp.ErrorType, Message: resp.Error}
	}
	return &resp, nil
}

// SendChatMessage sends message to recipientEmail and waits for the
// delivery report.
func (c *Client) SendChatMessage(ctx context.Context, recipientEmail, message string) (*protocol.SendMessageResponse, error) {
	msg, err := c.request(ctx, protocol.SendMessageRequest{
		RecipientEmail: recipientEmail,
		Message:        message,
	}, protocol.ActionSendMessageResponse)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(protocol.SendMessageResponse)
	if !ok {
		return nil, responseError(msg)
	}
	if !resp.Delivered {
		return &resp, &ServerError{Type: resp.ErrorType, Message: resp.Error}
	}
	return &resp, nil
}

// request sends req and waits for the next frame answering it. A lost
// connection fails the request; callers resubmit after reconnecting.
func (c *Client) request(ctx context.Context, req protocol.Inbound, answer string) (protocol.Outbound, error) {
	frame, err := protocol.EncodeInbound(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan reply, 1)
	c.mu.Lock()
	c.waiters[answer] = append(c.waiters[answer], ch)
	c.mu.Unlock()

	if err := c.sup.Send(frame); err != nil {
		c.dropWaiter(answer, ch)
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		c.abandonWaiter(answer, ch)
		return nil, ctx.Err()
	}
}

func (c *Client) handleFrame(frame []byte) {
	msg, err := protocol.DecodeOutbound(frame)
	if err != nil {
		c.logger.Debug().Err(err).Str("action", protocol.ActionOf(frame)).Msg("dropping frame")
		return
	}

	switch m := msg.(type) {
	case protocol.LoginResponse, protocol.SendMessageResponse:
		if c.answer(msg.Action(), msg) {
			return
		}
	case protocol.ErrorResponse:
		if answer := answerFor(m.For); answer != "" && c.answer(answer, msg) {
			return
		}
	case protocol.SessionEvicted:
		c.logger.Warn().Str("reason", m.Reason).Msg("session taken over by another connection")
		c.mu.Lock()
		c.email = ""
		c.mu.Unlock()
	}

	select {
	case c.events <- msg:
	default:
		c.logger.Warn().Str("action", msg.Action()).Msg("event buffer full, dropping")
	}
}

// answer hands msg to the oldest waiter for action. A nil waiter marks a
// request whose caller gave up; its reply is swallowed.
func (c *Client) answer(action string, msg protocol.Outbound) bool {
	c.mu.Lock()
	queue := c.waiters[action]
	if len(queue) == 0 {
		c.mu.Unlock()
		return false
	}
	ch := queue[0]
	c.waiters[action] = queue[1:]
	c.mu.Unlock()

	if ch == nil {
		c.logger.Debug().Str("action", action).Msg("discarding reply to abandoned request")
		return true
	}
	ch <- reply{msg: msg}
	return true
}

func (c *Client) dropWaiter(action string, ch chan reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.waiters[action]
	for i, w := range queue {
		if w == ch {
			c.waiters[action] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

// abandonWaiter keeps ch's place in the queue as a nil entry. The server
// still answers the request, and that reply must not reach a later caller.
func (c *Client) abandonWaiter(action string, ch chan reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters[action] {
		if w == ch {
			c.waiters[action][i] = nil
			return
		}
	}
}

func (c *Client) failWaiters(err error) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[string][]chan reply)
	c.mu.Unlock()

	for _, queue := range waiters {
		for _, ch := range queue {
			if ch != nil {
				ch <- reply{err: err}
			}
		}
	}
}

func (c *Client) onDisconnected(err error) {
	c.failWaiters(fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

// onConnected restores the session after an automatic reconnect.
func (c *Client) onConnected(automatic bool) {
	if !automatic {
		return
	}
	c.mu.Lock()
	email := c.email
	closed := c.closed
	if email != "" && !closed {
		c.relogins.Add(1)
	}
	c.mu.Unlock()
	if email == "" || closed {
		return
	}

	go func() {
		defer c.relogins.Done()
		timeout := c.timeout
		if timeout <= 0 {
			timeout = config.DefaultRequestTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := c.login(ctx, email)
		if err != nil {
			c.logger.Warn().Err(err).Str("email", email).Msg("login after reconnect failed")
			return
		}
		if resp.Tokens != nil {
			c.cache.SetTokens(*resp.Tokens)
			if err := c.cache.Save(); err != nil {
				c.logger.Warn().Err(err).Msg("save session cache")
			}
		}
		c.logger.Info().Str("email", email).Msg("session restored after reconnect")
	}()
}

func answerFor(action string) string {
	switch action {
	case protocol.ActionLogin:
		return protocol.ActionLoginResponse
	case protocol.ActionSendMessage:
		return protocol.ActionSendMessageResponse
	default:
		return ""
	}
}

func responseError(msg protocol.Outbound) error {
	if e, ok := msg.(protocol.ErrorResponse); ok {
		return &ServerError{Type: e.ErrorType, Message: e.Error}
	}
	return fmt.Errorf("unexpected %s frame", msg.Action())
}
