package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/ChatRelay/config"
	"github.com/Mmx233/ChatRelay/server/auth"
	"github.com/Mmx233/ChatRelay/server/awsclient"
	"github.com/Mmx233/ChatRelay/server/blob"
	"github.com/Mmx233/ChatRelay/server/connid"
	"github.com/Mmx233/ChatRelay/server/dispatch"
	"github.com/Mmx233/ChatRelay/server/httpapi"
	"github.com/Mmx233/ChatRelay/server/metrics"
	"github.com/Mmx233/ChatRelay/server/notify"
	"github.com/Mmx233/ChatRelay/server/presence"
	"github.com/Mmx233/ChatRelay/server/registry"
	"github.com/Mmx233/ChatRelay/server/session"
	"github.com/Mmx233/ChatRelay/server/store"
	"github.com/Mmx233/ChatRelay/server/transport/ws"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	shutdownTimeout = 10 * time.Second
	shutdownReason  = "server shutting down"
)

// Backends overrides the collaborators built from configuration. Nil fields
// are created according to the configured drivers.
type Backends struct {
	Users store.UserStore
	Blobs blob.Store
	Mail  notify.Sink
	// Presence is an extra presence subscriber, such as a Redis publisher.
	Presence presence.Subscriber
}

// Server is the ChatRelay server
type Server struct {
	config     *config.Server
	registry   *registry.Registry
	presence   *presence.Tracker
	dispatcher *dispatch.Dispatcher
	handshake  *session.Handshake
	upgrader   *ws.Upgrader
	metrics    *metrics.Metrics
	handler    http.Handler

	// connsMu orders conns.Add against the Wait in Shutdown.
	connsMu  sync.Mutex
	conns    sync.WaitGroup
	stopping atomic.Bool
	closers  []func() error
	logger   zerolog.Logger
}

// New builds a server from a validated configuration.
func New(ctx context.Context, conf *config.Server, backends Backends) (*Server, error) {
	logger := log.With().Str("com", "server").Logger()

	s := &Server{
		config:   conf,
		registry: registry.New(log.With().Str("com", "registry").Logger()),
		upgrader: ws.NewUpgrader(ws.OptionsFrom(conf.WebSocket)),
		logger:   logger,
	}

	var metricsHandler http.Handler
	if conf.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = metrics.New(reg, metrics.Gauges{
			Connections:   s.registry.Count,
			Authenticated: s.registry.AuthenticatedCount,
		})
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else {
		s.metrics = metrics.NewNop()
	}

	if err := s.buildBackends(ctx, &backends); err != nil {
		s.close()
		return nil, err
	}

	s.presence = presence.New(conf.Presence.QueueSize, s.metrics, log.With().Str("com", "presence").Logger())
	s.presence.Subscribe("peers", presence.NewPeers(s.registry))
	if backends.Presence != nil {
		s.presence.Subscribe("redis", backends.Presence)
	}

	tokens := auth.NewJWT([]byte(conf.Auth.JWTSecret), conf.Auth.Issuer, conf.Auth.AccessTTL, conf.Auth.RefreshTTL)

	s.handshake = session.New(session.Config{
		Registry: s.registry,
		Users:    backends.Users,
		Tokens:   tokens,
		Presence: s.presence,
		Timeout:  conf.HandshakeTimeout,
		Metrics:  s.metrics,
		Logger:   log.With().Str("com", "session").Logger(),
	})

	s.dispatcher = dispatch.New(dispatch.Config{
		Registry:           s.registry,
		Login:              s.handshake,
		ReplyUnknownAction: conf.Protocol.ReplyUnknownAction,
		FramesPerSecond:    conf.RateLimit.FramesPerSecond,
		Burst:              conf.RateLimit.Burst,
		Metrics:            s.metrics,
		Logger:             log.With().Str("com", "dispatch").Logger(),
	})

	blobFiles, _ := backends.Blobs.(*blob.Memory)
	s.handler = httpapi.NewRouter(httpapi.Config{
		Users:          backends.Users,
		Blobs:          backends.Blobs,
		Mail:           backends.Mail,
		Tokens:         tokens,
		MailOverrideTo: conf.Mail.OverrideTo,
		MaxUploadSize:  conf.Blob.MaxUploadSize,
		WebSocketPath:  conf.WebSocket.Path,
		WebSocket:      http.HandlerFunc(s.serveWebSocket),
		Metrics:        metricsHandler,
		BlobFiles:      blobFiles,
		Logger:         log.With().Str("com", "http").Logger(),
	})

	return s, nil
}

func (s *Server) buildBackends(ctx context.Context, b *Backends) error {
	conf := s.config

	if b.Users == nil {
		switch conf.Store.Driver {
		case config.StoreDriverDynamoDB:
			client, err := awsclient.DynamoDB(ctx, conf.Store.Region)
			if err != nil {
				return err
			}
			b.Users = store.NewDynamoDB(client, conf.Store.Table)
		default:
			b.Users = store.NewMemory()
		}
		s.logger.Info().Str("driver", conf.Store.Driver).Str("table", conf.Store.Table).Msg("user store ready")
	}

	if b.Blobs == nil {
		switch conf.Blob.Driver {
		case config.BlobDriverS3:
			client, region, err := awsclient.S3(ctx, conf.Blob.Region)
			if err != nil {
				return err
			}
			b.Blobs = blob.NewS3(client, conf.Blob.Bucket, region, conf.Blob.PublicBaseURL, conf.Blob.MaxUploadSize)
		default:
			b.Blobs = blob.NewMemory(conf.Blob.PublicBaseURL + httpapi.BlobPrefix)
		}
		s.logger.Info().Str("driver", conf.Blob.Driver).Str("bucket", conf.Blob.Bucket).Msg("blob store ready")
	}

	if b.Mail == nil {
		mailLogger := log.With().Str("com", "mail").Logger()
		switch conf.Mail.Driver {
		case config.MailDriverResend:
			b.Mail = notify.NewResend(conf.Mail.APIKey, conf.Mail.From, conf.Mail.OverrideTo, mailLogger)
		default:
			b.Mail = notify.NewLog(mailLogger)
		}
	}

	if b.Presence == nil && conf.Presence.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     conf.Presence.Redis.Addr,
			Password: conf.Presence.Redis.Password,
			DB:       conf.Presence.Redis.DB,
		})
		s.closers = append(s.closers, client.Close)
		b.Presence = presence.NewRedis(client, conf.Presence.Redis.Channel)
		s.logger.Info().
			Str("addr", conf.Presence.Redis.Addr).
			Str("channel", conf.Presence.Redis.Channel).
			Msg("presence redis publishing enabled")
	}

	return nil
}

// Handler returns the HTTP handler serving the API and the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry exposes the live connection registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Start serves on the configured address until ctx is canceled.
func Start(ctx context.Context, conf *config.Server) error {
	srv, err := New(ctx, conf, Backends{})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("listen: %w", err)
	}
	return srv.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Str("websocket_path", s.config.WebSocket.Path).
			Msg("server started")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	s.Shutdown()
	return ctx.Err()
}

// Shutdown closes every WebSocket connection, waits for their handlers and
// stops background workers.
func (s *Server) Shutdown() {
	s.connsMu.Lock()
	first := s.stopping.CompareAndSwap(false, true)
	s.connsMu.Unlock()
	if !first {
		return
	}
	for _, conn := range s.registry.List() {
		if err := s.registry.Close(conn, shutdownReason); err != nil {
			s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("close connection")
		}
	}
	s.conns.Wait()
	if s.presence != nil {
		s.presence.Stop()
	}
	s.close()
}

func (s *Server) close() {
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			s.logger.Debug().Err(err).Msg("close backend")
		}
	}
	s.closers = nil
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, shutdownReason, http.StatusServiceUnavailable)
		return
	}
	defer s.conns.Done()

	id := connid.Generate()
	logger := s.logger.With().Str("conn_id", id).Str("remote", r.RemoteAddr).Logger()

	transport, err := s.upgrader.Upgrade(w, r, logger)
	if err != nil {
		logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn, err := s.registry.Register(id, transport)
	if err != nil {
		logger.Error().Err(err).Msg("register connection failed")
		_ = transport.Close("internal error")
		transport.Run(func([]byte) {})
		return
	}
	s.metrics.ConnectionAccepted()
	logger.Info().Msg("connection opened")

	// Shutdown may have listed the registry before this connection joined it.
	if s.stopping.Load() {
		_ = s.registry.Close(conn, shutdownReason)
	}

	ctx := r.Context()
	transport.Run(func(frame []byte) {
		s.dispatcher.HandleRaw(ctx, conn, frame)
	})

	s.disconnect(conn)
	logger.Info().Str("email", conn.Identity()).Msg("connection closed")
}

// track counts a new WebSocket handler unless the server is stopping.
func (s *Server) track() bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.stopping.Load() {
		return false
	}
	s.conns.Add(1)
	return true
}

// disconnect releases everything held for conn once its transport is gone.
func (s *Server) disconnect(conn *registry.Connection) {
	s.handshake.Disconnect(conn)
	s.dispatcher.Forget(conn.ID)
	if err := s.registry.Close(conn, ""); err != nil {
		s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("close connection")
	}
}
