package auth

import (
	"errors"

	"github.com/Mmx233/ChatRelay/protocol"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongKind    = errors.New("token kind mismatch")
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Subject is the user summary embedded in every token.
type Subject struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// TokenService issues and verifies signed session tokens.
type TokenService interface {
	Issue(subject Subject) (protocol.Tokens, error)
	IssueAccess(subject Subject) (string, error)
	Verify(token string, kind Kind) (*Claims, error)
}
