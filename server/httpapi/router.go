package httpapi

import (
	"net/http"
	"time"

	"github.com/Mmx233/ChatRelay/server/auth"
	"github.com/Mmx233/ChatRelay/server/blob"
	"github.com/Mmx233/ChatRelay/server/notify"
	"github.com/Mmx233/ChatRelay/server/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Cookie names and lifetimes shared with browser and CLI clients.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"

	AccessCookieTTL = 24 * time.Hour
)

// BlobPrefix is where the in-memory blob store is served from.
const BlobPrefix = "/blobs"

type Config struct {
	Users  store.UserStore
	Blobs  blob.Store
	Mail   notify.Sink
	Tokens auth.TokenService

	// MailOverrideTo marks OTP mails as redirected to a test inbox.
	MailOverrideTo string
	MaxUploadSize  int64

	// WebSocketPath and WebSocket mount the chat endpoint.
	WebSocketPath string
	WebSocket     http.Handler
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// BlobFiles serves uploads when the memory blob driver is in use.
	BlobFiles *blob.Memory

	Logger zerolog.Logger
}

type API struct {
	users          store.UserStore
	blobs          blob.Store
	mail           notify.Sink
	tokens         auth.TokenService
	mailOverrideTo string
	maxUploadSize  int64
	now            func() time.Time
	logger         zerolog.Logger
}

func New(cfg Config) *API {
	return &API{
		users:          cfg.Users,
		blobs:          cfg.Blobs,
		mail:           cfg.Mail,
		tokens:         cfg.Tokens,
		mailOverrideTo: cfg.MailOverrideTo,
		maxUploadSize:  cfg.MaxUploadSize,
		now:            time.Now,
		logger:         cfg.Logger,
	}
}

// NewRouter builds the HTTP surface of the server.
func NewRouter(cfg Config) chi.Router {
	api := New(cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	if cfg.WebSocket != nil {
		r.Handle(cfg.WebSocketPath, cfg.WebSocket)
	}
	if cfg.BlobFiles != nil {
		r.Get(BlobPrefix+"/*", serveBlob(cfg.BlobFiles))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", api.Login)
		r.Post("/send-otp", api.SendOTP)
		r.Post("/complete-signup", api.CompleteSignup)
		r.Post("/auth/refresh", api.Refresh)
	})

	return r
}

func serveBlob(files *blob.Memory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, contentType, ok := files.Get(chi.URLParam(r, "*"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		_, _ = w.Write(body)
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}
