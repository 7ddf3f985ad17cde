package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mmx233/ChatRelay/tools"
)

// Storage and delivery drivers
const (
	StoreDriverMemory   = "memory"
	StoreDriverDynamoDB = "dynamodb"

	BlobDriverMemory = "memory"
	BlobDriverS3     = "s3"

	MailDriverLog    = "log"
	MailDriverResend = "resend"
)

type Server struct {
	Listen           string        `yaml:"listen"`
	WebSocket        WebSocket     `yaml:"websocket"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // Bounds user store and token calls during login
	Protocol         Protocol      `yaml:"protocol"`
	RateLimit        RateLimit     `yaml:"rate_limit"`
	Auth             ServerAuth    `yaml:"auth"`
	Store            Store         `yaml:"store"`
	Blob             Blob          `yaml:"blob"`
	Mail             Mail          `yaml:"mail"`
	Presence         Presence      `yaml:"presence"`
	Metrics          Metrics       `yaml:"metrics"`
}

type WebSocket struct {
	Path       string        `yaml:"path"`
	ReadLimit  int64         `yaml:"read_limit"`
	WriteWait  time.Duration `yaml:"write_wait"`
	PongWait   time.Duration `yaml:"pong_wait"`
	SendBuffer int           `yaml:"send_buffer"`
}

// PingPeriod returns how often pings are sent, slightly below PongWait.
func (w WebSocket) PingPeriod() time.Duration {
	return (w.PongWait * 9) / 10
}

type Protocol struct {
	// ReplyUnknownAction answers frames with an unrecognized action with an
	// error frame instead of dropping them silently.
	ReplyUnknownAction bool `yaml:"reply_unknown_action"`
}

type RateLimit struct {
	FramesPerSecond float64 `yaml:"frames_per_second"` // 0 disables limiting
	Burst           int     `yaml:"burst"`
}

type ServerAuth struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

type Store struct {
	Driver string `yaml:"driver"`
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

type Blob struct {
	Driver        string `yaml:"driver"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	PublicBaseURL string `yaml:"public_base_url"` // Overrides the virtual-hosted S3 URL
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

type Mail struct {
	Driver     string `yaml:"driver"`
	APIKey     string `yaml:"api_key"`
	From       string `yaml:"from"`
	OverrideTo string `yaml:"override_to"` // Redirects every mail to one inbox, for testing
}

type Presence struct {
	QueueSize int           `yaml:"queue_size"`
	Redis     PresenceRedis `yaml:"redis"`
}

type PresenceRedis struct {
	Addr     string `yaml:"addr"` // Empty disables publishing
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// ApplyEnv overrides secrets from the environment so they can stay out of the config file.
func (s *Server) ApplyEnv() {
	s.Auth.JWTSecret = tools.GetenvDefault(EnvPrefix+"JWT_SECRET", s.Auth.JWTSecret)
	s.Mail.APIKey = tools.GetenvDefault(EnvPrefix+"RESEND_API_KEY", s.Mail.APIKey)
	s.Presence.Redis.Password = tools.GetenvDefault(EnvPrefix+"REDIS_PASSWORD", s.Presence.Redis.Password)
}

// ApplyDefaults fills zero-value fields with defaults.
func (s *Server) ApplyDefaults() {
	if s.Listen == "" {
		s.Listen = DefaultListenAddr
	}
	if s.WebSocket.Path == "" {
		s.WebSocket.Path = DefaultWebSocketPath
	}
	if s.WebSocket.ReadLimit == 0 {
		s.WebSocket.ReadLimit = DefaultReadLimit
	}
	if s.WebSocket.WriteWait == 0 {
		s.WebSocket.WriteWait = DefaultWriteWait
	}
	if s.WebSocket.PongWait == 0 {
		s.WebSocket.PongWait = DefaultPongWait
	}
	if s.WebSocket.SendBuffer == 0 {
		s.WebSocket.SendBuffer = DefaultSendBuffer
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.RateLimit.FramesPerSecond > 0 && s.RateLimit.Burst == 0 {
		s.RateLimit.Burst = DefaultFrameBurst
	}
	if s.Auth.Issuer == "" {
		s.Auth.Issuer = DefaultTokenIssuer
	}
	if s.Auth.AccessTTL == 0 {
		s.Auth.AccessTTL = DefaultAccessTokenTTL
	}
	if s.Auth.RefreshTTL == 0 {
		s.Auth.RefreshTTL = DefaultRefreshTokenTTL
	}
	if s.Store.Driver == "" {
		s.Store.Driver = StoreDriverMemory
	}
	if s.Store.Table == "" {
		s.Store.Table = DefaultUsersTable
	}
	if s.Blob.Driver == "" {
		s.Blob.Driver = BlobDriverMemory
	}
	if s.Blob.MaxUploadSize == 0 {
		s.Blob.MaxUploadSize = DefaultMaxUploadSize
	}
	if s.Mail.Driver == "" {
		s.Mail.Driver = MailDriverLog
	}
	if s.Mail.From == "" {
		s.Mail.From = DefaultMailFrom
	}
	if s.Presence.QueueSize == 0 {
		s.Presence.QueueSize = DefaultPresenceQueueSize
	}
	if s.Presence.Redis.Channel == "" {
		s.Presence.Redis.Channel = DefaultPresenceChannel
	}
}

// Validate checks the configuration after defaults have been applied.
func (s *Server) Validate() error {
	if err := ValidateListenAddress(s.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if !strings.HasPrefix(s.WebSocket.Path, "/") {
		return fmt.Errorf("websocket path must start with '/', got %q", s.WebSocket.Path)
	}
	if s.WebSocket.ReadLimit < 0 {
		return fmt.Errorf("websocket read_limit cannot be negative")
	}
	if s.WebSocket.SendBuffer < 0 {
		return fmt.Errorf("websocket send_buffer cannot be negative")
	}
	if s.RateLimit.FramesPerSecond < 0 || s.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values cannot be negative")
	}
	if len(s.Auth.JWTSecret) < MinJWTSecretSize {
		return fmt.Errorf("auth jwt_secret must be at least %d bytes, got %d", MinJWTSecretSize, len(s.Auth.JWTSecret))
	}
	if s.Auth.AccessTTL >= s.Auth.RefreshTTL {
		return fmt.Errorf("auth access_ttl (%v) must be shorter than refresh_ttl (%v)", s.Auth.AccessTTL, s.Auth.RefreshTTL)
	}

	switch s.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverDynamoDB:
		if s.Store.Table == "" {
			return fmt.Errorf("store table is required for driver %q", s.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", s.Store.Driver)
	}

	switch s.Blob.Driver {
	case BlobDriverMemory:
	case BlobDriverS3:
		if s.Blob.Bucket == "" {
			return fmt.Errorf("blob bucket is required for driver %q", s.Blob.Driver)
		}
	default:
		return fmt.Errorf("unknown blob driver %q", s.Blob.Driver)
	}

	switch s.Mail.Driver {
	case MailDriverLog:
	case MailDriverResend:
		if s.Mail.APIKey == "" {
			return fmt.Errorf("mail api_key is required for driver %q", s.Mail.Driver)
		}
	default:
		return fmt.Errorf("unknown mail driver %q", s.Mail.Driver)
	}

	if s.Presence.QueueSize < 0 {
		return fmt.Errorf("presence queue_size cannot be negative")
	}
	if s.Presence.Redis.Addr != "" {
		if err := ValidateAddress(s.Presence.Redis.Addr); err != nil {
			return fmt.Errorf("presence redis: %w", err)
		}
	}

	return nil
}
