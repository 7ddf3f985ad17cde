package protocol

import "time"

// Frame actions
const (
	ActionLogin               = "login"
	ActionLoginResponse       = "loginResponse"
	ActionSendMessage         = "sendMessage"
	ActionSendMessageResponse = "sendMessageResponse"
	ActionMessage             = "message"    // Chat message pushed to the recipient
	ActionPresence            = "presence"   // Peer went online or offline
	ActionSessionEvicted      = "sessionEvicted"
	ActionError               = "error"
)

// ErrorType classifies an error carried in a response frame.
type ErrorType string

const (
	ErrorTypeUserNotFound     ErrorType = "USER_NOT_FOUND"
	ErrorTypeOther            ErrorType = "OTHER"
	ErrorTypeInvalidRequest   ErrorType = "INVALID_REQUEST"
	ErrorTypeUnauthenticated  ErrorType = "UNAUTHENTICATED"
	ErrorTypeRecipientOffline ErrorType = "RECIPIENT_OFFLINE"
	ErrorTypeUnknownAction    ErrorType = "UNKNOWN_ACTION"
	ErrorTypeRateLimited      ErrorType = "RATE_LIMITED"
)

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Inbound is a frame sent by a client. The set of implementations is closed.
type Inbound interface {
	Action() string
	inbound()
}

// Outbound is a frame sent by the server. The set of implementations is closed.
type Outbound interface {
	Action() string
	outbound()
}

// LoginRequest asks the server to bind the connection to a user.
type LoginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SendMessageRequest asks the server to route a chat message.
type SendMessageRequest struct {
	RecipientEmail string `json:"recipientEmail" validate:"required,email"`
	Message        string `json:"message" validate:"required"`
}

func (LoginRequest) Action() string       { return ActionLogin }
func (SendMessageRequest) Action() string { return ActionSendMessage }
func (LoginRequest) inbound()             {}
func (SendMessageRequest) inbound()       {}

// UserProfile is the public view of a user record.
type UserProfile struct {
	Email             string    `json:"email"`
	FirstName         string    `json:"firstName"`
	LastName          string    `json:"lastName"`
	Gender            string    `json:"gender,omitempty"`
	DateOfBirth       string    `json:"dateOfBirth,omitempty"`
	ProfilePictureURL *string   `json:"profilePictureUrl"`
	UseInitials       bool      `json:"useInitials"`
	ConnectionID      string    `json:"connectionId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type LoginResponse struct {
	User      *UserProfile `json:"user,omitempty"`
	Tokens    *Tokens      `json:"tokens,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorType ErrorType    `json:"errorType,omitempty"`
}

type SendMessageResponse struct {
	Delivered      bool      `json:"delivered"`
	RecipientEmail string    `json:"recipientEmail,omitempty"`
	Error          string    `json:"error,omitempty"`
	ErrorType      ErrorType `json:"errorType,omitempty"`
}

type ChatMessage struct {
	SenderEmail string    `json:"senderEmail"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sentAt"`
}

type PresenceEvent struct {
	Email  string         `json:"email"`
	Status PresenceStatus `json:"status"`
	At     time.Time      `json:"at"`
}

// SessionEvicted is sent to a connection right before it is closed
// because the same user logged in elsewhere.
type SessionEvicted struct {
	Reason string `json:"reason"`
}

// ErrorResponse reports a failure that has no action-specific response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	ErrorType ErrorType `json:"errorType"`
	For       string    `json:"action,omitempty"` // Action of the offending frame
}

func (LoginResponse) Action() string       { return ActionLoginResponse }
func (SendMessageResponse) Action() string { return ActionSendMessageResponse }
func (ChatMessage) Action() string         { return ActionMessage }
func (PresenceEvent) Action() string       { return ActionPresence }
func (SessionEvicted) Action() string      { return ActionSessionEvicted }
func (ErrorResponse) Action() string       { return ActionError }

func (LoginResponse) outbound()       {}
func (SendMessageResponse) outbound() {}
func (ChatMessage) outbound()         {}
func (PresenceEvent) outbound()       {}
func (SessionEvicted) outbound()      {}
func (ErrorResponse) outbound()       {}
