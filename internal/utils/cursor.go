package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ContactCursor is the opaque pagination token for contact listings; it
// mirrors the (created_at, id) sort key of the listing query.
type ContactCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func EncodeContactCursor(createdAt time.Time, id string) (string, error) {
	b, err := json.Marshal(ContactCursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeContactCursor(cursor string) (ContactCursor, error) {
	if cursor == "" {
		return ContactCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return ContactCursor{}, err
	}

	var c ContactCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return ContactCursor{}, err
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return ContactCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
