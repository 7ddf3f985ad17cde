package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mmx233/ChatRelay/config"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected       = errors.New("not connected to server")
	ErrConnectionLost     = errors.New("connection lost")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// DefaultDialTimeout bounds a single automatic reconnect dial.
const DefaultDialTimeout = 10 * time.Second

// Backoff returns the delay before reconnect attempt n (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func Backoff(policy config.Reconnect, attempt int) time.Duration {
	if attempt <= 1 {
		return min(policy.BaseDelay, policy.MaxDelay)
	}
	delay := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxDelay || delay <= 0 {
			return policy.MaxDelay
		}
	}
	return delay
}

type SupervisorConfig struct {
	URL         string
	Dialer      Dialer
	Clock       Clock
	Policy      config.Reconnect
	DialTimeout time.Duration

	// OnFrame receives every inbound frame on the reader goroutine.
	OnFrame func(frame []byte)
	// OnConnected runs after every successful dial. automatic is true when
	// the dial was a scheduled retry rather than an explicit Connect. It must
	// not call Connect.
	OnConnected func(automatic bool)
	// OnDisconnected runs when an established connection is lost.
	OnDisconnected func(err error)
	// OnExhausted runs once the last retry has failed.
	OnExhausted func()
	// OnStateChange observes every state transition.
	OnStateChange func(State)

	Logger zerolog.Logger
}

// Supervisor owns the single connection to the server and re-establishes it
// after unsolicited loss. At most one retry is pending at any time.
type Supervisor struct {
	cfg SupervisorConfig

	// dialMu serializes dials so only one physical connection exists.
	dialMu sync.Mutex

	mu        sync.Mutex
	state     State
	conn      Conn
	gen       uint64
	attempt   int
	timer     Timer
	timerSeq  uint64
	exhausted bool
	closed    bool

	readers sync.WaitGroup
	logger  zerolog.Logger
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.OnFrame == nil {
		cfg.OnFrame = func([]byte) {}
	}
	return &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the number of the most recently scheduled retry.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Exhausted reports whether retries have run out.
func (s *Supervisor) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// Connect dials the server unless already connected. It resets the retry
// counter and cancels any pending retry. A failed dial schedules a retry.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	s.attempt = 0
	s.exhausted = false
	s.mu.Unlock()

	return s.dial(ctx, false)
}

// Disconnect closes the connection without scheduling a retry.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	conn, changed := s.resetLocked()
	s.mu.Unlock()

	s.release(conn, changed)
}

// Close disconnects for good and waits for the reader goroutine to exit.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	conn, changed := s.resetLocked()
	s.mu.Unlock()

	s.release(conn, changed)
	s.readers.Wait()
}

func (s *Supervisor) release(conn Conn, changed bool) {
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("close connection")
		}
	}
	if changed {
		s.notifyState(StateDisconnected)
	}
}

// Send writes a frame on the current connection.
func (s *Supervisor) Send(frame []byte) error {
	s.mu.Lock()
	if s.state != StateConnected {
		exhausted := s.exhausted
		s.mu.Unlock()
		if exhausted {
			return fmt.Errorf("%w: %w", ErrNotConnected, ErrReconnectExhausted)
		}
		return ErrNotConnected
	}
	conn, gen := s.conn, s.gen
	s.mu.Unlock()

	if err := conn.Send(frame); err != nil {
		s.lost(gen, err)
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return nil
}

func (s *Supervisor) dial(ctx context.Context, automatic bool) error {
	s.setState(StateConnecting)
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	logger := s.logger.With().Str("url", s.cfg.URL).Bool("automatic", automatic).Logger()
	logger.Debug().Msg("dialing server")

	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)

	s.mu.Lock()
	if s.gen != gen || s.closed {
		// Disconnected while dialing
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrNotConnected
	}
	if err != nil {
		s.state = StateDisconnected
		exhausted := s.scheduleRetryLocked()
		attempt := s.attempt
		s.mu.Unlock()

		s.notifyState(StateDisconnected)
		logger.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
		if exhausted {
			s.exhaust()
		}
		return err
	}

	s.gen++
	gen = s.gen
	s.conn = conn
	s.state = StateConnected
	s.attempt = 0
	s.exhausted = false
	s.readers.Add(1)
	s.mu.Unlock()

	go s.readLoop(conn, gen)

	s.notifyState(StateConnected)
	logger.Info().Msg("connected to server")
	if s.cfg.OnConnected != nil {
		s.cfg.OnConnected(automatic)
	}
	return nil
}

func (s *Supervisor) readLoop(conn Conn, gen uint64) {
	defer s.readers.Done()
	for {
		frame, err := conn.Receive()
		if err != nil {
			s.lost(gen, err)
			return
		}
		s.cfg.OnFrame(frame)
	}
}

// lost handles the failure of connection generation gen. Failures of a
// connection that was already replaced or closed on purpose are ignored.
func (s *Supervisor) lost(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	exhausted := s.scheduleRetryLocked()
	s.mu.Unlock()

	_ = conn.Close()
	s.notifyState(StateDisconnected)
	s.logger.Warn().Err(cause).Msg("connection lost")
	if s.cfg.OnDisconnected != nil {
		s.cfg.OnDisconnected(cause)
	}
	if exhausted {
		s.exhaust()
	}
}

// scheduleRetryLocked arms the retry timer unless one is already pending.
// It reports whether the retry budget is spent instead.
func (s *Supervisor) scheduleRetryLocked() (exhausted bool) {
	if s.closed || s.timer != nil {
		return false
	}
	if s.attempt >= s.cfg.Policy.MaxAttempts {
		s.exhausted = true
		return true
	}
	s.attempt++
	delay := Backoff(s.cfg.Policy, s.attempt)

	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.cfg.Clock.AfterFunc(delay, func() { s.retry(seq) })

	s.logger.Info().
		Int("attempt", s.attempt).
		Int("max_attempts", s.cfg.Policy.MaxAttempts).
		Dur("backoff", delay).
		Msg("scheduling reconnection attempt")
	return false
}

// retry runs a scheduled attempt unless the timer that fired has since been
// stopped or replaced.
func (s *Supervisor) retry(seq uint64) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	if s.timer == nil || s.timerSeq != seq || s.closed || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	defer cancel()
	_ = s.dial(ctx, true)
}

func (s *Supervisor) exhaust() {
	s.logger.Error().
		Int("max_attempts", s.cfg.Policy.MaxAttempts).
		Msg("reconnect attempts exhausted, staying disconnected")
	if s.cfg.OnExhausted != nil {
		s.cfg.OnExhausted()
	}
}

// resetLocked cancels the pending retry, invalidates the current connection
// and returns it for closing.
func (s *Supervisor) resetLocked() (conn Conn, changed bool) {
	s.stopTimerLocked()
	s.attempt = 0
	s.exhausted = false
	s.gen++
	conn = s.conn
	s.conn = nil
	changed = s.state != StateDisconnected
	s.state = StateDisconnected
	return conn, changed
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notifyState(state)
}

func (s *Supervisor) notifyState(state State) {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}
