package config

import "time"

// Server side defaults
const (
	// DefaultListenAddr is where the HTTP and WebSocket endpoints are served
	DefaultListenAddr = ":8080"

	// DefaultWebSocketPath is the upgrade endpoint path
	DefaultWebSocketPath = "/ws"

	// DefaultReadLimit caps the size of a single inbound frame
	DefaultReadLimit = 64 * 1024

	// DefaultWriteWait is the deadline for a single outbound write
	DefaultWriteWait = 10 * time.Second

	// DefaultPongWait is the time without a pong before the connection is considered dead
	DefaultPongWait = 60 * time.Second

	// DefaultSendBuffer is the per-connection outbound queue length
	DefaultSendBuffer = 256

	// DefaultHandshakeTimeout bounds the user store and token calls made by a login
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultFramesPerSecond and DefaultFrameBurst configure the per-connection inbound limiter
	DefaultFramesPerSecond = 20
	DefaultFrameBurst      = 40

	// DefaultAccessTokenTTL and DefaultRefreshTokenTTL are the lifetimes of issued tokens
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultTokenIssuer is the iss claim of issued tokens
	DefaultTokenIssuer = "chatrelay"

	// MinJWTSecretSize is the minimum length of the HMAC signing secret in bytes
	MinJWTSecretSize = 32

	// DefaultUsersTable is the DynamoDB table holding user profiles
	DefaultUsersTable = "WebChatingApp"

	// DefaultPresenceQueueSize is the per-subscriber presence event queue length
	DefaultPresenceQueueSize = 256

	// DefaultPresenceChannel is the Redis channel presence events are published on
	DefaultPresenceChannel = "chatrelay:presence"

	// DefaultMailFrom is the sender address for outbound email
	DefaultMailFrom = "onboarding@resend.dev"

	// DefaultMaxUploadSize caps profile picture uploads
	DefaultMaxUploadSize = 10 << 20
)

// Client side defaults
const (
	// DefaultReconnectBaseDelay is the delay before the first reconnect attempt
	DefaultReconnectBaseDelay = 2 * time.Second

	// DefaultReconnectMaxDelay caps the exponential reconnect delay
	DefaultReconnectMaxDelay = 30 * time.Second

	// DefaultMaxReconnectAttempts is the number of retries before giving up
	DefaultMaxReconnectAttempts = 5

	// DefaultRequestTimeout bounds a request waiting for its response frame
	DefaultRequestTimeout = 15 * time.Second

	// DefaultSessionFile is where the client keeps its tokens between runs
	DefaultSessionFile = "session.json"
)
