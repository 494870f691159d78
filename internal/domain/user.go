package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a gateway caller. Users are provisioned lazily the first
// time an unseen identifier is presented, so Username defaults to the ID.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	APIKey    *string   `json:"-"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser returns a user record with default field values for id.
func NewUser(id string, now time.Time) *User {
	return &User{
		ID:        id,
		Username:  id,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FallbackUsername is the username given to a lazily provisioned user whose
// id is already taken as another user's username.
func FallbackUsername(id string) string {
	return id + "-" + uuid.NewString()[:8]
}
