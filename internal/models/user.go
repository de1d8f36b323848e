package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	// IsEphemeral marks guest identities minted without credentials.
	IsEphemeral bool `json:"is_ephemeral"`

	CreatedAt time.Time `json:"created_at"`
}

// Participant returns the identity used when the user takes a seat.
func (u *User) Participant() Participant {
	return Participant{ID: u.ID, Name: u.Username}
}
