package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/Mmx233/ChatRelay/server/metrics"
	"github.com/Mmx233/ChatRelay/server/registry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/Mmx233/ChatRelay/server/dispatch"

// LoginHandler answers login frames.
type LoginHandler interface {
	Login(ctx context.Context, conn *registry.Connection, req protocol.LoginRequest) protocol.LoginResponse
}

type Config struct {
	Registry *registry.Registry
	Login    LoginHandler
	// ReplyUnknownAction answers unknown actions with an error frame.
	ReplyUnknownAction bool
	// FramesPerSecond limits inbound frames per connection. Zero disables it.
	FramesPerSecond float64
	Burst           int
	Metrics         *metrics.Metrics
	Logger          zerolog.Logger
}

// Dispatcher decodes inbound frames, routes them to their handler and
// writes replies back to the originating connection.
type Dispatcher struct {
	registry     *registry.Registry
	login        LoginHandler
	replyUnknown bool

	limit    rate.Limit
	burst    int
	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter

	tracer  trace.Tracer
	now     func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		registry:     cfg.Registry,
		login:        cfg.Login,
		replyUnknown: cfg.ReplyUnknownAction,
		limit:        rate.Limit(cfg.FramesPerSecond),
		burst:        cfg.Burst,
		limiters:     make(map[string]*rate.Limiter),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// HandleRaw processes one frame read from conn. It never returns an error:
// every failure becomes a reply frame or a logged drop.
func (d *Dispatcher) HandleRaw(ctx context.Context, conn *registry.Connection, raw []byte) {
	start := d.now()
	d.registry.Touch(conn.ID)

	action := protocol.ActionOf(raw)
	ctx, span := d.tracer.Start(ctx, "chatrelay.frame",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("chatrelay.action", action),
			attribute.String("chatrelay.conn_id", conn.ID),
		),
	)
	defer span.End()

	logger := d.logger.With().Str("conn_id", conn.ID).Str("action", action).Logger()

	if !d.allow(conn.ID) {
		d.metrics.Frame(metricAction(action), metrics.ResultRateLimited, d.now().Sub(start))
		span.SetStatus(codes.Error, "rate limited")
		logger.Debug().Msg("frame rate limited")
		d.reply(conn, protocol.ErrorResponse{
			Error:     "Too many frames",
			ErrorType: protocol.ErrorTypeRateLimited,
			For:       action,
		})
		return
	}

	msg, err := protocol.DecodeInbound(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed frame")
		d.metrics.Frame(metricAction(action), metrics.ResultMalformed, d.now().Sub(start))

		if errors.Is(err, protocol.ErrUnknownAction) {
			logger.Warn().Msg("no handler for action")
			if d.replyUnknown {
				d.reply(conn, protocol.ErrorResponse{
					Error:     fmt.Sprintf("Unknown action %q", action),
					ErrorType: protocol.ErrorTypeUnknownAction,
					For:       action,
				})
			}
			return
		}
		logger.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	if out := d.Dispatch(ctx, conn, msg); out != nil {
		d.reply(conn, out)
	}

	d.metrics.Frame(msg.Action(), metrics.ResultOK, d.now().Sub(start))
	span.SetStatus(codes.Ok, "")
}

// Dispatch routes a decoded frame to its handler and returns the reply for
// the sender, or nil when there is none.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *registry.Connection, msg protocol.Inbound) protocol.Outbound {
	switch m := msg.(type) {
	case protocol.LoginRequest:
		return d.login.Login(ctx, conn, m)
	case protocol.SendMessageRequest:
		return d.sendMessage(conn, m)
	default:
		d.logger.Error().Str("type", fmt.Sprintf("%T", msg)).Msg("inbound frame without handler")
		return nil
	}
}

// Send encodes msg and queues it on the connection with the given id.
func (d *Dispatcher) Send(connID string, msg protocol.Outbound) error {
	conn, ok := d.registry.Lookup(connID)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrConnectionNotFound, connID)
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// Forget releases per-connection state once the connection is gone.
func (d *Dispatcher) Forget(connID string) {
	d.limitMu.Lock()
	delete(d.limiters, connID)
	d.limitMu.Unlock()
}

func (d *Dispatcher) sendMessage(conn *registry.Connection, req protocol.SendMessageRequest) protocol.Outbound {
	if !conn.Authenticated() {
		return protocol.SendMessageResponse{
			RecipientEmail: req.RecipientEmail,
			Error:          "Login required",
			ErrorType:      protocol.ErrorTypeUnauthenticated,
		}
	}
	if err := protocol.Validate(req); err != nil {
		return protocol.SendMessageResponse{
			RecipientEmail: req.RecipientEmail,
			Error:          err.Error(),
			ErrorType:      protocol.ErrorTypeInvalidRequest,
		}
	}

	offline := protocol.SendMessageResponse{
		RecipientEmail: req.RecipientEmail,
		Error:          "Recipient is offline",
		ErrorType:      protocol.ErrorTypeRecipientOffline,
	}

	recipient, ok := d.registry.LookupByUser(req.RecipientEmail)
	if !ok {
		d.metrics.MessageRouted(metrics.ResultOffline)
		return offline
	}

	frame, err := protocol.Encode(protocol.ChatMessage{
		SenderEmail: conn.Identity(),
		Message:     req.Message,
		SentAt:      d.now().UTC(),
	})
	if err != nil {
		d.metrics.MessageRouted(metrics.ResultError)
		return protocol.SendMessageResponse{
			RecipientEmail: req.RecipientEmail,
			Error:          "Failed to send message",
			ErrorType:      protocol.ErrorTypeOther,
		}
	}
	if err := recipient.Send(frame); err != nil {
		d.metrics.MessageRouted(metrics.ResultOffline)
		d.logger.Debug().Err(err).
			Str("conn_id", conn.ID).
			Str("recipient_conn_id", recipient.ID).
			Msg("recipient connection not writable")
		return offline
	}

	d.metrics.MessageRouted(metrics.ResultOK)
	return protocol.SendMessageResponse{Delivered: true, RecipientEmail: req.RecipientEmail}
}

func (d *Dispatcher) reply(conn *registry.Connection, msg protocol.Outbound) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		d.logger.Error().Err(err).Str("action", msg.Action()).Msg("encode reply")
		return
	}
	if err := conn.Send(frame); err != nil {
		d.logger.Debug().Err(err).
			Str("conn_id", conn.ID).
			Str("action", msg.Action()).
			Msg("reply dropped")
	}
}

func (d *Dispatcher) allow(connID string) bool {
	if d.limit <= 0 {
		return true
	}
	d.limitMu.Lock()
	limiter, ok := d.limiters[connID]
	if !ok {
		limiter = rate.NewLimiter(d.limit, d.burst)
		d.limiters[connID] = limiter
	}
	d.limitMu.Unlock()
	return limiter.Allow()
}

// metricAction keeps label cardinality bounded for client-chosen actions.
func metricAction(action string) string {
	switch action {
	case protocol.ActionLogin, protocol.ActionSendMessage:
		return action
	case "":
		return "none"
	default:
		return "unknown"
	}
}
