package contact

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("contact not found")

type Contact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Favorite  bool      `json:"favorite"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateContactRequest struct {
	UserID   string `json:"-"`
	Name     string `json:"name" binding:"required,min=2,max=120"`
	Email    string `json:"email" binding:"omitempty,email"`
	Phone    string `json:"phone" binding:"omitempty,min=5,max=32"`
	Favorite bool   `json:"favorite"`
}

// a full update payload; partial updates only exist for the favorite flag
type UpdateContactRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=120"`
	Email    string `json:"email" binding:"omitempty,email"`
	Phone    string `json:"phone" binding:"omitempty,min=5,max=32"`
	Favorite bool   `json:"favorite"`
}

type UpdateFavoriteRequest struct {
	Favorite *bool `json:"favorite" binding:"required"`
}

func NewFromCreateRequest(req CreateContactRequest) Contact {
	now := time.Now().UTC()

	return Contact{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Favorite:  req.Favorite,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
