package store

import (
	"context"
	"errors"
	"time"

	"github.com/Mmx233/ChatRelay/protocol"
)

var ErrNotFound = errors.New("user not found")

// User is a stored user record keyed by email.
type User struct {
	Email             string    `dynamodbav:"email" json:"email"`
	FirstName         string    `dynamodbav:"firstName" json:"firstName"`
	LastName          string    `dynamodbav:"lastName" json:"lastName"`
	Gender            string    `dynamodbav:"gender" json:"gender"`
	DateOfBirth       string    `dynamodbav:"dateOfBirth" json:"dateOfBirth"`
	ProfilePictureURL *string   `dynamodbav:"profilePictureUrl" json:"profilePictureUrl"`
	UseInitials       bool      `dynamodbav:"useInitials" json:"useInitials"`
	CreatedAt         time.Time `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time `dynamodbav:"updatedAt" json:"updatedAt"`
}

// Profile converts the record into its wire form.
func (u User) Profile() protocol.UserProfile {
	return protocol.UserProfile{
		Email:             u.Email,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		Gender:            u.Gender,
		DateOfBirth:       u.DateOfBirth,
		ProfilePictureURL: u.ProfilePictureURL,
		UseInitials:       u.UseInitials,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

// UserStore is a point-lookup user table.
type UserStore interface {
	// Get returns ErrNotFound when no user has the email.
	Get(ctx context.Context, email string) (*User, error)
	Put(ctx context.Context, user *User) error
}
