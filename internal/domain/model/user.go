package model

import (
	"time"

	"github.com/google/uuid"

	"farm-subscription-backend/internal/domain"
)

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// User is the minimal account entity the engine needs: identity for payment
// scoping and the signup IP for the fraud guard's per-IP counts.
type User struct {
	ID           string // UUID
	Email        string
	PasswordHash string
	Role         UserRole
	SignupIP     string
	CreatedAt    time.Time
}

// NewUser constructs and validates a User.
func NewUser(email, passwordHash, signupIP string) (*User, error) {
	if email == "" || passwordHash == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         UserRoleUser,
		SignupIP:     signupIP,
		CreatedAt:    time.Now(),
	}, nil
}

func (u *User) IsAdmin() bool { return u.Role == UserRoleAdmin }
