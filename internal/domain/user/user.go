package user

import (
	"errors"
	"time"
)

type Subscription string

const (
	SubscriptionStarter  Subscription = "starter"
	SubscriptionPro      Subscription = "pro"
	SubscriptionBusiness Subscription = "business"
)

func (s Subscription) IsValid() bool {
	switch s {
	case SubscriptionStarter, SubscriptionPro, SubscriptionBusiness:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailInUse = errors.New("email already in use")
)

type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"` // never expose hash in JSON
	Subscription Subscription `json:"subscription"`
	// current session token; empty when logged out or unverified
	Token            string    `json:"-"`
	Verify           bool      `json:"verify"`
	VerificationCode string    `json:"-"`
	AvatarURL        string    `json:"avatarURL"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type ResendVerifyRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type UpdateSubscriptionRequest struct {
	Subscription Subscription `json:"subscription" binding:"required,oneof=starter pro business"`
}
