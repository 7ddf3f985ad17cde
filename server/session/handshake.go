package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/Mmx233/ChatRelay/server/auth"
	"github.com/Mmx233/ChatRelay/server/metrics"
	"github.com/Mmx233/ChatRelay/server/registry"
	"github.com/Mmx233/ChatRelay/server/store"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

const EvictionReason = "logged in from another connection"

// Presence receives identity online/offline transitions.
type Presence interface {
	Online(email string)
	Offline(email string)
}

// Handshake handles the login action.
type Handshake struct {
	registry *registry.Registry
	users    store.UserStore
	tokens   auth.TokenService
	presence Presence
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

type Config struct {
	Registry *registry.Registry
	Users    store.UserStore
	Tokens   auth.TokenService
	Presence Presence
	// Timeout bounds the user lookup and token issuance. Zero means no limit.
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func New(cfg Config) *Handshake {
	return &Handshake{
		registry: cfg.Registry,
		users:    cfg.Users,
		tokens:   cfg.Tokens,
		presence: cfg.Presence,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Login authenticates conn as the requested user and always returns a
// response frame. On failure the connection stays as it was.
func (h *Handshake) Login(ctx context.Context, conn *registry.Connection, req protocol.LoginRequest) protocol.LoginResponse {
	logger := h.logger.With().Str("conn_id", conn.ID).Str("email", req.Email).Logger()

	profile, tokens, err := h.authenticate(ctx, conn, req)
	switch {
	case err == nil:
		h.metrics.Login(metrics.ResultOK)
		logger.Info().Msg("login succeeded")
		return protocol.LoginResponse{User: profile, Tokens: tokens}
	case errors.Is(err, ErrInvalidRequest):
		h.metrics.Login(metrics.ResultMalformed)
		logger.Debug().Err(err).Msg("login rejected")
		return protocol.LoginResponse{Error: err.Error(), ErrorType: protocol.ErrorTypeInvalidRequest}
	case errors.Is(err, store.ErrNotFound):
		h.metrics.Login(metrics.ResultNotFound)
		logger.Info().Msg("login for unknown user")
		return protocol.LoginResponse{Error: "User not found", ErrorType: protocol.ErrorTypeUserNotFound}
	default:
		h.metrics.Login(metrics.ResultError)
		logger.Error().Err(err).Msg("login failed")
		return protocol.LoginResponse{Error: "Failed to login", ErrorType: protocol.ErrorTypeOther}
	}
}

func (h *Handshake) authenticate(ctx context.Context, conn *registry.Connection, req protocol.LoginRequest) (*protocol.UserProfile, *protocol.Tokens, error) {
	if err := protocol.Validate(req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Concurrent logins for one identity run one at a time so the eviction
	// and presence transitions they cause are applied in order.
	unlock := h.registry.LockIdentity(req.Email)
	defer unlock()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	user, err := h.users.Get(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: user lookup: %v", ErrUpstreamUnavailable, err)
	}

	tokens, err := h.tokens.Issue(auth.Subject{
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: issue tokens: %v", ErrUpstreamUnavailable, err)
	}

	res, err := h.registry.Bind(conn.ID, req.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("bind: %w", err)
	}

	if res.Evicted != nil {
		h.evict(res.Evicted)
	}
	if res.Replaced != "" {
		h.presence.Offline(res.Replaced)
	}
	if !res.AlreadyBound && res.Evicted == nil {
		h.presence.Online(req.Email)
	}

	profile := user.Profile()
	profile.ConnectionID = conn.ID
	return &profile, &tokens, nil
}

// Disconnect removes a closed connection from the registry and reports its
// identity offline when no other connection took it over. It holds the
// identity lock so an offline event never lands after a newer login's online.
func (h *Handshake) Disconnect(conn *registry.Connection) {
	if email := conn.Identity(); email != "" {
		unlock := h.registry.LockIdentity(email)
		defer unlock()
	}
	if email := h.registry.Remove(conn.ID); email != "" {
		h.presence.Offline(email)
	}
}

func (h *Handshake) evict(conn *registry.Connection) {
	h.metrics.Eviction()

	farewell, err := protocol.Encode(protocol.SessionEvicted{Reason: EvictionReason})
	if err != nil {
		h.logger.Error().Err(err).Msg("encode eviction frame")
		farewell = nil
	}
	if err := h.registry.CloseWith(conn, "session evicted", farewell); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("close evicted connection")
		return
	}
	h.logger.Info().
		Str("conn_id", conn.ID).
		Str("email", conn.Identity()).
		Msg("previous session evicted")
}
